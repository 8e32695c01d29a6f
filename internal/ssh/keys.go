package ssh

// keys.go covers the two key paths a session needs: parsing the PEM material
// EC2 hands back from CreateKeyPair into an 'ssh.Signer', and generating
// throwaway ED25519 pairs for the in-process test server.
//
// 'x/crypto/ssh' has no 'PrivateKey' type; the 'Signer' interface fills that
// role everywhere in this package.

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"
)

var (
	ErrKeyGen            = fmt.Errorf("failed to generate an ED25519 keypair")
	ErrPubKeyConv        = fmt.Errorf("failed to convert the public key to 'ssh.PublicKey'")
	ErrPrivKeyConv       = fmt.Errorf("failed to convert the private key to an 'ssh.Signer'")
	ErrSSHFailedKeyParse = fmt.Errorf("failed to parse SSH private key")
	ErrEmptyKey          = fmt.Errorf("no private key material provided")
)

// KeyPair is an ED25519 key pair.
type KeyPair struct {
	Public  PublicKey
	Private PrivateKey
}

type PublicKey struct {
	key ed25519.PublicKey
}

type PrivateKey struct {
	key ed25519.PrivateKey
}

// NewKeyPair generates a fresh ED25519 key pair.
func NewKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %w", ErrKeyGen, err)
	}
	return KeyPair{
		Public:  PublicKey{key: pub},
		Private: PrivateKey{key: priv},
	}, nil
}

func (k PublicKey) ToSSH() (ssh.PublicKey, error) {
	pub, err := ssh.NewPublicKey(k.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPubKeyConv, err)
	}
	return pub, nil
}

func (k PrivateKey) ToSSH() (ssh.Signer, error) {
	signer, err := ssh.NewSignerFromKey(k.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrivKeyConv, err)
	}
	return signer, nil
}

// ParseKey parses PEM-encoded private key material (PKCS#1 RSA as returned
// by EC2 for 'rsa' key pairs, or OpenSSH format for 'ed25519').
//
// When 'phrase' is non-empty the key is first parsed as encrypted. A wrong
// passphrase is fatal; any other failure is retried as a plaintext key.
func ParseKey(key, phrase []byte) (ssh.Signer, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	if len(phrase) > 0 {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(key, phrase)
		if err == nil {
			return signer, nil
		}
		if errors.Is(err, x509.IncorrectPasswordError) {
			return nil, fmt.Errorf("%w: %w", ErrSSHFailedKeyParse, err)
		}
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSSHFailedKeyParse, err)
	}
	return signer, nil
}
