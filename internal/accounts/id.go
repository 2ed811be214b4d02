package accounts

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// IDProvider issues identifiers for newly created accounts.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// NewCredential returns a throwaway random credential for a provisioned
// account. It is never transmitted or checked; authentication for these
// accounts is always delegated to the external identity provider.
func NewCredential() (string, error) {
	buffer := make([]byte, 32)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
