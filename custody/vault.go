// Package custody keeps the balances of every account known to the raffle
// unit: participant keys, raffle escrows and entrant ledgers. Storage
// objects must stay rent exempt, so part of their balance is locked until
// they are released.
package custody

import (
	"github.com/dedis/raffle/core"
	"go.dedis.ch/protobuf"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

const (
	// RentPerByteYear is the storage rate charged per byte and year.
	RentPerByteYear = 3480
	// ExemptionYears is how many years of rent make an object exempt.
	ExemptionYears = 2
	// AccountOverhead is charged on top of the data size of every object.
	AccountOverhead = 128
)

var (
	ErrInsufficientFunds = xerrors.New("insufficient funds")
	ErrAccountExists     = xerrors.New("account already exists")
	ErrSelfTransfer      = xerrors.New("transfer to self")
)

// Account is the persisted state of one id. Size is zero for plain
// participant accounts and the data size for storage objects.
type Account struct {
	Balance uint64
	Counter uint64
	Size    uint64
}

// RentExempt returns the balance an object of the given data size must
// retain to stay allocated.
func RentExempt(size uint64) (uint64, error) {
	total, err := core.Add(AccountOverhead, size)
	if err != nil {
		return 0, err
	}
	total, err = core.Mul(total, RentPerByteYear)
	if err != nil {
		return 0, err
	}
	return core.Mul(total, ExemptionYears)
}

// Vault reads and writes accounts inside one bbolt transaction. Writes are
// only visible once the enclosing transaction commits.
type Vault struct {
	b *bbolt.Bucket
}

// NewVault wraps the accounts bucket of an open transaction.
func NewVault(b *bbolt.Bucket) *Vault {
	return &Vault{b: b}
}

// Account returns the state of id. Unknown ids are empty accounts.
func (v *Vault) Account(id core.ID) (*Account, error) {
	buf := v.b.Get(id[:])
	if buf == nil {
		return &Account{}, nil
	}
	var acc Account
	if err := protobuf.Decode(buf, &acc); err != nil {
		return nil, xerrors.Errorf("decoding account %x: %v", id[:8], err)
	}
	return &acc, nil
}

func (v *Vault) exists(id core.ID) bool {
	return v.b.Get(id[:]) != nil
}

func (v *Vault) put(id core.ID, acc *Account) error {
	buf, err := protobuf.Encode(acc)
	if err != nil {
		return xerrors.Errorf("encoding account: %v", err)
	}
	return v.b.Put(id[:], buf)
}

// Allocate creates the storage object obj of the given data size. The payer
// funds it with exactly its rent-exempt balance.
func (v *Vault) Allocate(obj core.ID, size uint64, payer core.ID) (uint64, error) {
	if obj.IsZero() || v.exists(obj) {
		return 0, ErrAccountExists
	}
	rent, err := RentExempt(size)
	if err != nil {
		return 0, err
	}
	src, err := v.Account(payer)
	if err != nil {
		return 0, err
	}
	available, err := v.available(src)
	if err != nil {
		return 0, err
	}
	if available < rent {
		return 0, xerrors.Errorf("allocating %d bytes for %d: %w", size, rent, ErrInsufficientFunds)
	}
	src.Balance -= rent
	if err := v.put(payer, src); err != nil {
		return 0, err
	}
	return rent, v.put(obj, &Account{Balance: rent, Size: size})
}

// Transfer moves amount from one account to another. The sender cannot dip
// below its rent-exempt floor.
func (v *Vault) Transfer(from, to core.ID, amount uint64) error {
	if from.IsZero() || to.IsZero() {
		return xerrors.New("transfer with empty account id")
	}
	if from == to {
		return ErrSelfTransfer
	}
	src, err := v.Account(from)
	if err != nil {
		return err
	}
	available, err := v.available(src)
	if err != nil {
		return err
	}
	if available < amount {
		return xerrors.Errorf("need %d, have %d: %w", amount, available, ErrInsufficientFunds)
	}
	dst, err := v.Account(to)
	if err != nil {
		return err
	}
	credit, err := core.Add(dst.Balance, amount)
	if err != nil {
		return err
	}
	src.Balance -= amount
	dst.Balance = credit
	if err := v.put(from, src); err != nil {
		return err
	}
	return v.put(to, dst)
}

// BalanceOf returns the whole balance of obj, locked floor included.
func (v *Vault) BalanceOf(obj core.ID) (uint64, error) {
	acc, err := v.Account(obj)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// MinimumRetained returns the rent-exempt floor of obj.
func (v *Vault) MinimumRetained(obj core.ID) (uint64, error) {
	acc, err := v.Account(obj)
	if err != nil {
		return 0, err
	}
	if acc.Size == 0 {
		return 0, nil
	}
	return RentExempt(acc.Size)
}

// Release closes the storage object obj and moves its entire balance to to.
func (v *Vault) Release(obj, to core.ID) error {
	if obj == to {
		return ErrSelfTransfer
	}
	if !v.exists(obj) {
		return xerrors.Errorf("releasing %x: unknown account", obj[:8])
	}
	src, err := v.Account(obj)
	if err != nil {
		return err
	}
	dst, err := v.Account(to)
	if err != nil {
		return err
	}
	credit, err := core.Add(dst.Balance, src.Balance)
	if err != nil {
		return err
	}
	dst.Balance = credit
	if err := v.b.Delete(obj[:]); err != nil {
		return err
	}
	return v.put(to, dst)
}

// Credit mints amount into id. Only the faucet uses it.
func (v *Vault) Credit(id core.ID, amount uint64) (uint64, error) {
	acc, err := v.Account(id)
	if err != nil {
		return 0, err
	}
	balance, err := core.Add(acc.Balance, amount)
	if err != nil {
		return 0, err
	}
	acc.Balance = balance
	return balance, v.put(id, acc)
}

// Bump moves the replay counter of id to counter, which must be the next
// one.
func (v *Vault) Bump(id core.ID, counter uint64) error {
	acc, err := v.Account(id)
	if err != nil {
		return err
	}
	if counter != acc.Counter+1 {
		return xerrors.Errorf("counter %d, expected %d: %w", counter, acc.Counter+1,
			core.ErrUnauthorized)
	}
	acc.Counter = counter
	return v.put(id, acc)
}

func (v *Vault) available(acc *Account) (uint64, error) {
	if acc.Size == 0 {
		return acc.Balance, nil
	}
	floor, err := RentExempt(acc.Size)
	if err != nil {
		return 0, err
	}
	if acc.Balance < floor {
		return 0, nil
	}
	return acc.Balance - floor, nil
}
