package mock

import (
	"bytes"
	"fmt"

	"golang.org/x/crypto/ssh"
)

var ErrUnauthorized = fmt.Errorf("public key is not authorized")

// AuthorizedKeys returns a 'PubKeyCallback' accepting only the provided
// public keys.
func AuthorizedKeys(allowed ...ssh.PublicKey) PubKeyCallback {
	marshaled := make([][]byte, 0, len(allowed))
	for _, k := range allowed {
		marshaled = append(marshaled, k.Marshal())
	}
	return func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
		offered := key.Marshal()
		for _, m := range marshaled {
			if bytes.Equal(m, offered) {
				return nil, nil
			}
		}
		return nil, ErrUnauthorized
	}
}
