package model

import (
	"audience-activation/internal/domain"
)

type IdentifierType string

const (
	IdentifierEmail      IdentifierType = "email"
	IdentifierPhone      IdentifierType = "phone"
	IdentifierMobileAdID IdentifierType = "mobile_ad_id"
	IdentifierCRMID      IdentifierType = "crm_id"
)

func (t IdentifierType) Valid() bool {
	switch t {
	case IdentifierEmail, IdentifierPhone, IdentifierMobileAdID, IdentifierCRMID:
		return true
	}
	return false
}

// UserIdentifier is a single audience member identifier. The raw value never
// leaves the process; only the digest is transmitted to ad platforms.
type UserIdentifier struct {
	Type     IdentifierType
	rawValue string
	hashed   string
}

// NewUserIdentifier wraps a plaintext identifier. The value is kept private so
// it cannot be marshalled or logged by accident.
func NewUserIdentifier(t IdentifierType, raw string) (*UserIdentifier, error) {
	if !t.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	if raw == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &UserIdentifier{Type: t, rawValue: raw}, nil
}

// Raw exposes the plaintext to the normalizer only. Callers outside the
// hashing path must use Hashed.
func (u *UserIdentifier) Raw() string { return u.rawValue }

func (u *UserIdentifier) Hashed() string { return u.hashed }

func (u *UserIdentifier) IsHashed() bool { return u.hashed != "" }

// SetHashed attaches the digest exactly once; a second call is rejected.
func (u *UserIdentifier) SetHashed(digest string) error {
	if u.hashed != "" {
		return domain.ErrAlreadyExists
	}
	if digest == "" {
		return domain.ErrInvalidArgument
	}
	u.hashed = digest
	return nil
}

// HomogeneousType reports whether all identifiers share one type, returning
// that type when they do.
func HomogeneousType(ids []*UserIdentifier) (IdentifierType, bool) {
	if len(ids) == 0 {
		return "", true
	}
	t := ids[0].Type
	for _, id := range ids[1:] {
		if id.Type != t {
			return "", false
		}
	}
	return t, true
}
