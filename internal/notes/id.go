package notes

import "github.com/google/uuid"

type uuidIDProvider struct{}

// NewUUIDProvider constructs an IDProvider minting time-ordered UUIDv7 note ids.
func NewUUIDProvider() IDProvider {
	return uuidIDProvider{}
}

func (uuidIDProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
