package utils

import (
	"io/ioutil"
	"os"

	"github.com/BurntSushi/toml"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/cothority/v3/darc"
	"go.dedis.ch/kyber/v3/util/encoding"
	"golang.org/x/xerrors"
)

// KeyFile is the on-disk form of an account key pair.
type KeyFile struct {
	Public  string
	Private string
}

// NewKeyFile wraps an Ed25519 signer for storage.
func NewKeyFile(signer darc.Signer) (*KeyFile, error) {
	if signer.Ed25519 == nil || signer.Ed25519.Secret == nil {
		return nil, xerrors.New("signer has no ed25519 secret")
	}
	pub, err := encoding.PointToStringHex(cothority.Suite, signer.Ed25519.Point)
	if err != nil {
		return nil, xerrors.Errorf("encoding public key: %v", err)
	}
	priv, err := encoding.ScalarToStringHex(cothority.Suite, signer.Ed25519.Secret)
	if err != nil {
		return nil, xerrors.Errorf("encoding private key: %v", err)
	}
	return &KeyFile{Public: pub, Private: priv}, nil
}

// Signer rebuilds the signer and checks that both halves match.
func (k *KeyFile) Signer() (darc.Signer, error) {
	pub, err := encoding.StringHexToPoint(cothority.Suite, k.Public)
	if err != nil {
		return darc.Signer{}, xerrors.Errorf("decoding public key: %v", err)
	}
	priv, err := encoding.StringHexToScalar(cothority.Suite, k.Private)
	if err != nil {
		return darc.Signer{}, xerrors.Errorf("decoding private key: %v", err)
	}
	if !cothority.Suite.Point().Mul(priv, nil).Equal(pub) {
		return darc.Signer{}, xerrors.New("public key does not match private key")
	}
	return darc.NewSignerEd25519(pub, priv), nil
}

// WriteKey stores signer in path, readable by the owner only.
func WriteKey(path string, signer darc.Signer) error {
	kf, err := NewKeyFile(signer)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return xerrors.Errorf("opening key file: %v", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(kf); err != nil {
		return xerrors.Errorf("writing key file: %v", err)
	}
	return nil
}

func ReadKey(path string) (darc.Signer, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return darc.Signer{}, xerrors.Errorf("reading key file: %v", err)
	}
	kf := &KeyFile{}
	if _, err := toml.Decode(string(buf), kf); err != nil {
		return darc.Signer{}, xerrors.Errorf("parsing key file: %v", err)
	}
	return kf.Signer()
}
