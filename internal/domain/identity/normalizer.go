// Package identity canonicalizes and digests user identifiers before they are
// transmitted to ad platforms. It is pure: no I/O, no state beyond an optional
// salt.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"audience-activation/internal/domain"
	"audience-activation/internal/domain/model"
)

var (
	emailRe      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	mobileAdIDRe = regexp.MustCompile(`^[0-9a-f]{8}-?[0-9a-f]{4}-?[0-9a-f]{4}-?[0-9a-f]{4}-?[0-9a-f]{12}$`)
	nonDigitRe   = regexp.MustCompile(`\D`)
)

// Hasher normalizes and digests identifiers. Salt is empty by default: ad
// platforms match against unsalted SHA-256 digests.
type Hasher struct {
	salt string
}

func NewHasher(salt string) *Hasher { return &Hasher{salt: salt} }

// Normalize canonicalizes a raw value per its type so that equivalent inputs
// hash to the same digest. Normalization is idempotent.
func Normalize(value string, t model.IdentifierType) string {
	switch t {
	case model.IdentifierEmail:
		return NormalizeEmail(value)
	case model.IdentifierPhone:
		return NormalizePhone(value)
	case model.IdentifierMobileAdID:
		return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "")
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

func NormalizeEmail(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	at := strings.LastIndex(v, "@")
	if at < 0 {
		return v
	}
	local, dom := v[:at], v[at+1:]
	if dom == "gmail.com" || dom == "googlemail.com" {
		if plus := strings.Index(local, "+"); plus >= 0 {
			local = local[:plus]
		}
		local = strings.ReplaceAll(local, ".", "")
	}
	return local + "@" + dom
}

// NormalizePhone applies a NANP-biased heuristic: 11 digits starting with 1 is
// treated as US with country code, exactly 10 digits gets +1 prepended, and
// anything else just gets a leading +. A strict E.164 parser can replace this
// without touching callers.
func NormalizePhone(value string) string {
	digits := nonDigitRe.ReplaceAllString(value, "")
	switch {
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits
	case len(digits) == 10:
		return "+1" + digits
	default:
		return "+" + digits
	}
}

// Hash digests a normalized value: lowercase hex SHA-256 over the UTF-8 bytes
// of value+salt.
func (h *Hasher) Hash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized + h.salt))
	return hex.EncodeToString(sum[:])
}

// Validate reports why an identifier is unusable, or nil when it is fine.
func Validate(id *model.UserIdentifier) error {
	if id == nil || id.Raw() == "" {
		return fmt.Errorf("%w: empty value", domain.ErrInvalidIdentifier)
	}
	raw := strings.TrimSpace(id.Raw())
	switch id.Type {
	case model.IdentifierEmail:
		if !emailRe.MatchString(strings.ToLower(raw)) {
			return fmt.Errorf("%w: malformed email", domain.ErrInvalidIdentifier)
		}
	case model.IdentifierPhone:
		if len(nonDigitRe.ReplaceAllString(raw, "")) < 10 {
			return fmt.Errorf("%w: phone needs at least 10 digits", domain.ErrInvalidIdentifier)
		}
	case model.IdentifierMobileAdID:
		if !mobileAdIDRe.MatchString(strings.ToLower(raw)) {
			return fmt.Errorf("%w: malformed mobile ad id", domain.ErrInvalidIdentifier)
		}
	case model.IdentifierCRMID:
		if raw == "" {
			return fmt.Errorf("%w: empty crm id", domain.ErrInvalidIdentifier)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", domain.ErrInvalidIdentifier, id.Type)
	}
	return nil
}

// BatchError aggregates per-index validation failures for one batch.
type BatchError struct {
	Failures map[int]error // identifier ordinal -> reason
}

func (e *BatchError) Error() string {
	idxs := make([]int, 0, len(e.Failures))
	for i := range e.Failures {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	parts := make([]string, 0, len(idxs))
	for _, i := range idxs {
		parts = append(parts, fmt.Sprintf("index %d: %v", i, e.Failures[i]))
	}
	return fmt.Sprintf("%d invalid identifier(s): %s", len(idxs), strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() error { return domain.ErrInvalidIdentifier }

// ValidateAll checks every identifier and returns a BatchError naming each
// failing ordinal, or nil when the whole batch is valid.
func ValidateAll(ids []*model.UserIdentifier) error {
	failures := map[int]error{}
	for i, id := range ids {
		if err := Validate(id); err != nil {
			failures[i] = err
		}
	}
	if len(failures) > 0 {
		return &BatchError{Failures: failures}
	}
	return nil
}

// HashAll validates the whole batch and then digests every identifier in
// place. Any invalid entry rejects the entire batch: partial hashing would
// desynchronize the ordinal positions reported in validation errors.
// Already-hashed identifiers are left untouched.
func (h *Hasher) HashAll(ids []*model.UserIdentifier) error {
	if err := ValidateAll(ids); err != nil {
		return err
	}
	for _, id := range ids {
		if id.IsHashed() {
			continue
		}
		if err := id.SetHashed(h.Hash(Normalize(id.Raw(), id.Type))); err != nil {
			return err
		}
	}
	return nil
}
