package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/util/key"
	"golang.org/x/xerrors"
)

func TestMath_Overflow(t *testing.T) {
	v, err := Add(math.MaxUint64-1, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), v)
	_, err = Add(math.MaxUint64, 1)
	require.True(t, xerrors.Is(err, ErrInvalidCalculation))

	_, err = Sub(1, 2)
	require.True(t, xerrors.Is(err, ErrInvalidCalculation))
	v, err = Sub(10, 10)
	require.NoError(t, err)
	require.Zero(t, v)

	_, err = Mul(math.MaxUint64/2+1, 2)
	require.True(t, xerrors.Is(err, ErrInvalidCalculation))
	v, err = Mul(1000, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(10000), v)
}

func TestMath_Percent(t *testing.T) {
	v, err := Percent(10000, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(500), v)

	// Truncates toward zero.
	v, err = Percent(1999, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(99), v)

	// The intermediate product must fit even if the result would.
	_, err = Percent(math.MaxUint64/2, 3)
	require.True(t, xerrors.Is(err, ErrInvalidCalculation))
}

func TestMath_AddTime(t *testing.T) {
	v, err := AddTime(100, 1)
	require.NoError(t, err)
	require.Equal(t, int64(101), v)
	_, err = AddTime(math.MaxInt64, 1)
	require.Error(t, err)
	_, err = AddTime(math.MinInt64, -1)
	require.Error(t, err)
}

func TestErrors_Kind(t *testing.T) {
	require.Equal(t, CapacityExceeded, KindOf(ErrNotEnoughTicketsLeft))
	wrapped := xerrors.Errorf("buying tickets: %w", ErrRaffleEnded)
	require.Equal(t, TimingViolation, KindOf(wrapped))
	require.True(t, xerrors.Is(wrapped, ErrRaffleEnded))
	require.Equal(t, KindUnknown, KindOf(xerrors.New("plain")))
	require.Contains(t, ErrNoPrize.Error(), "6003")
}

func TestID_Point(t *testing.T) {
	kp := key.NewKeyPair(cothority.Suite)
	id, err := IDFromPoint(kp.Public)
	require.NoError(t, err)
	p, err := id.Point()
	require.NoError(t, err)
	require.True(t, p.Equal(kp.Public))

	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = NewID([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestID_DeriveRaffleID(t *testing.T) {
	a, err := RandomID()
	require.NoError(t, err)
	b, err := RandomID()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Equal(t, DeriveRaffleID(a), DeriveRaffleID(a))
	require.NotEqual(t, DeriveRaffleID(a), DeriveRaffleID(b))
	require.False(t, DeriveRaffleID(a).IsZero())
}

func TestID_DeriveEntrantsID(t *testing.T) {
	a, err := RandomID()
	require.NoError(t, err)
	b, err := RandomID()
	require.NoError(t, err)
	require.Equal(t, DeriveEntrantsID(a, 1), DeriveEntrantsID(a, 1))
	require.NotEqual(t, DeriveEntrantsID(a, 1), DeriveEntrantsID(a, 2))
	require.NotEqual(t, DeriveEntrantsID(a, 1), DeriveEntrantsID(b, 1))
	require.NotEqual(t, a, DeriveEntrantsID(a, 1))
}
