package qredit

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcutil/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ripemd160"
)

const (
	PublicKeySize   = 33
	AddressHashSize = 20
	AddressSize     = 1 + AddressHashSize
)

// CryptoProvider is the key and signature capability used to build
// transactions. Implementations must be safe for concurrent use.
type CryptoProvider interface {
	DerivePublicKey(passphrase string) ([]byte, error)
	Sign(payload []byte, passphrase string) ([]byte, error)
	DeriveAddress(publicKey []byte, version byte) (string, error)
}

// Secp256k1Crypto derives the private key as sha256(passphrase) and signs the
// sha256 digest of the payload with deterministic ECDSA, DER encoded.
type Secp256k1Crypto struct{}

var _ CryptoProvider = Secp256k1Crypto{}

func (Secp256k1Crypto) privateKey(passphrase string) (key *btcec.PrivateKey, err error) {
	if passphrase == "" {
		err = errors.Wrap(ErrSigning, "empty passphrase")
		return
	}
	seed := sha256.Sum256([]byte(passphrase))
	key, _ = btcec.PrivKeyFromBytes(seed[:])
	return
}

func (c Secp256k1Crypto) DerivePublicKey(passphrase string) (publicKey []byte, err error) {
	key, err := c.privateKey(passphrase)
	if err != nil {
		return
	}
	return key.PubKey().SerializeCompressed(), nil
}

func (c Secp256k1Crypto) Sign(payload []byte, passphrase string) (signature []byte, err error) {
	key, err := c.privateKey(passphrase)
	if err != nil {
		return
	}
	hash := sha256.Sum256(payload)
	return ecdsa.Sign(key, hash[:]).Serialize(), nil
}

func (Secp256k1Crypto) DeriveAddress(publicKey []byte, version byte) (address string, err error) {
	if _, err = btcec.ParsePubKey(publicKey); err != nil {
		err = errors.Wrapf(ErrSigning, "invalid public key: %v", err)
		return
	}
	h := ripemd160.New()
	_, _ = h.Write(publicKey)
	return base58.CheckEncode(h.Sum(nil), version), nil
}

// VerifySignature checks a DER signature over payload against a compressed
// public key.
func VerifySignature(publicKey, signature, payload []byte) bool {
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	pub, err := btcec.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	hash := sha256.Sum256(payload)
	return sig.Verify(hash[:], pub)
}

// DecodeAddress returns the 21 raw address bytes (version byte followed by
// the public key hash) of a Base58Check address.
func DecodeAddress(address string) (decoded []byte, err error) {
	payload, version, err := base58.CheckDecode(address)
	if err != nil {
		err = errors.Wrapf(ErrEncoding, "invalid address '%s': %v", address, err)
		return
	}
	if len(payload) != AddressHashSize {
		err = errors.Wrapf(ErrEncoding, "invalid address '%s': expected %d decoded bytes, got %d",
			address, AddressSize, len(payload)+1)
		return
	}
	decoded = append([]byte{version}, payload...)
	return
}

func EncodeAddress(decoded []byte) (address string, err error) {
	if len(decoded) != AddressSize {
		err = errors.Wrapf(ErrEncoding, "expected %d address bytes, got %d", AddressSize, len(decoded))
		return
	}
	return base58.CheckEncode(decoded[1:], decoded[0]), nil
}
