package uid

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// New generates a new unique identifier.
func New() string {
	return uuid.New().String()
}

// IsValid checks if a string is a valid UUID.
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// State returns an unguessable URL-safe token for OAuth2 state parameters.
func State() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
