package posts

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// IDProvider issues post identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type randomIDProvider struct{}

// NewRandomIDProvider issues 32 hex characters drawn from a random UUID.
func NewRandomIDProvider() IDProvider {
	return randomIDProvider{}
}

func (randomIDProvider) NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(value[:]), nil
}
