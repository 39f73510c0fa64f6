//go:build !integration

package identity

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"audience-activation/internal/domain"
	"audience-activation/internal/domain/model"
)

var hexDigestRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

func mustIdentifier(t *testing.T, typ model.IdentifierType, raw string) *model.UserIdentifier {
	t.Helper()
	id, err := model.NewUserIdentifier(typ, raw)
	if err != nil {
		t.Fatalf("NewUserIdentifier(%s, %q): %v", typ, raw, err)
	}
	return id
}

func TestNormalize(t *testing.T) {
	t.Run("email is trimmed and lowercased", func(t *testing.T) {
		if got := Normalize("  User@Example.COM ", model.IdentifierEmail); got != "user@example.com" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("gmail dots and subaddressing are stripped", func(t *testing.T) {
		cases := map[string]string{
			"a.b@gmail.com":           "ab@gmail.com",
			"A.B+promo@gmail.com":     "ab@gmail.com",
			"a.b.c+x@googlemail.com":  "abc@googlemail.com",
			"a.b+promo@example.com":   "a.b+promo@example.com", // non-gmail keeps both
			"first.last@GMAIL.com":    "firstlast@gmail.com",
		}
		for in, want := range cases {
			if got := Normalize(in, model.IdentifierEmail); got != want {
				t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
			}
		}
	})

	t.Run("phone heuristics", func(t *testing.T) {
		cases := map[string]string{
			"(415) 555-2671":   "+14155552671",
			"1-415-555-2671":   "+14155552671",
			"+1 415 555 2671":  "+14155552671",
			"4155552671":       "+14155552671",
			"442071838750":     "+442071838750", // 12 digits: passed through with +
		}
		for in, want := range cases {
			if got := Normalize(in, model.IdentifierPhone); got != want {
				t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
			}
		}
	})

	t.Run("mobile ad id drops hyphens and case", func(t *testing.T) {
		in := "AEBE52E7-03EE-455A-B3C4-E57283966239"
		want := "aebe52e703ee455ab3c4e57283966239"
		if got := Normalize(in, model.IdentifierMobileAdID); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("idempotent for every type", func(t *testing.T) {
		inputs := map[model.IdentifierType]string{
			model.IdentifierEmail:      "A.B+x@gmail.com",
			model.IdentifierPhone:      "(415) 555-2671",
			model.IdentifierMobileAdID: "AEBE52E7-03EE-455A-B3C4-E57283966239",
			model.IdentifierCRMID:      "  Crm-42 ",
		}
		for typ, in := range inputs {
			once := Normalize(in, typ)
			if twice := Normalize(once, typ); twice != once {
				t.Errorf("%s: Normalize not idempotent: %q -> %q", typ, once, twice)
			}
		}
	})
}

func TestHash(t *testing.T) {
	h := NewHasher("")

	t.Run("digest is lowercase hex sha256", func(t *testing.T) {
		d := h.Hash("user@example.com")
		if !hexDigestRe.MatchString(d) {
			t.Errorf("digest %q is not 64 lowercase hex chars", d)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		if h.Hash("user@example.com") != h.Hash("user@example.com") {
			t.Error("same input produced different digests")
		}
	})

	t.Run("equivalent gmail spellings share a digest", func(t *testing.T) {
		a := h.Hash(Normalize("a.b@gmail.com", model.IdentifierEmail))
		b := h.Hash(Normalize("ab@gmail.com", model.IdentifierEmail))
		if a != b {
			t.Errorf("digests differ: %s vs %s", a, b)
		}
	})

	t.Run("salt changes the digest", func(t *testing.T) {
		salted := NewHasher("pepper")
		if h.Hash("user@example.com") == salted.Hash("user@example.com") {
			t.Error("salted and unsalted digests are equal")
		}
	})
}

func TestValidate(t *testing.T) {
	bad := []struct {
		name string
		typ  model.IdentifierType
		raw  string
	}{
		{"email without at", model.IdentifierEmail, "not-an-email"},
		{"email without domain dot", model.IdentifierEmail, "a@b"},
		{"email with spaces", model.IdentifierEmail, "a b@example.com"},
		{"nine digit phone", model.IdentifierPhone, "415555267"},
		{"non-hex mobile ad id", model.IdentifierMobileAdID, "zzzzzzzz-03ee-455a-b3c4-e57283966239"},
		{"truncated mobile ad id", model.IdentifierMobileAdID, "aebe52e7-03ee"},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			id := mustIdentifier(t, tc.typ, tc.raw)
			if err := Validate(id); !errors.Is(err, domain.ErrInvalidIdentifier) {
				t.Errorf("expected ErrInvalidIdentifier, got %v", err)
			}
		})
	}

	good := []struct {
		typ model.IdentifierType
		raw string
	}{
		{model.IdentifierEmail, "user@example.com"},
		{model.IdentifierPhone, "+1 (415) 555-2671"},
		{model.IdentifierMobileAdID, "AEBE52E7-03EE-455A-B3C4-E57283966239"},
		{model.IdentifierMobileAdID, "aebe52e703ee455ab3c4e57283966239"},
		{model.IdentifierCRMID, "crm-42"},
	}
	for _, tc := range good {
		if err := Validate(mustIdentifier(t, tc.typ, tc.raw)); err != nil {
			t.Errorf("Validate(%s %q): unexpected %v", tc.typ, tc.raw, err)
		}
	}
}

func TestHashAll(t *testing.T) {
	t.Run("rejects the whole batch on one bad entry", func(t *testing.T) {
		ids := []*model.UserIdentifier{
			mustIdentifier(t, model.IdentifierEmail, "a@gmail.com"),
			mustIdentifier(t, model.IdentifierEmail, "A.B+promo@gmail.com"),
			mustIdentifier(t, model.IdentifierEmail, "bad-email"),
		}
		err := NewHasher("").HashAll(ids)
		if err == nil {
			t.Fatal("expected an error, got nil")
		}
		if !strings.Contains(err.Error(), "index 2") {
			t.Errorf("error should name index 2, got: %v", err)
		}
		for i, id := range ids {
			if id.IsHashed() {
				t.Errorf("identifier %d was hashed despite batch rejection", i)
			}
		}
		var be *BatchError
		if !errors.As(err, &be) {
			t.Fatalf("expected *BatchError, got %T", err)
		}
		if len(be.Failures) != 1 {
			t.Errorf("expected 1 failure, got %d", len(be.Failures))
		}
	})

	t.Run("hashes every identifier exactly once", func(t *testing.T) {
		ids := []*model.UserIdentifier{
			mustIdentifier(t, model.IdentifierEmail, "a@gmail.com"),
			mustIdentifier(t, model.IdentifierEmail, "A.B+promo@gmail.com"),
		}
		h := NewHasher("")
		if err := h.HashAll(ids); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		first := ids[0].Hashed()
		second := ids[1].Hashed()
		if first == "" || second == "" {
			t.Fatal("identifiers not hashed")
		}
		if first == second {
			t.Error("a@gmail.com and ab@gmail.com must produce distinct digests")
		}
		// Re-running must be a no-op, not a re-hash.
		if err := h.HashAll(ids); err != nil {
			t.Fatalf("second HashAll: %v", err)
		}
		if ids[0].Hashed() != first || ids[1].Hashed() != second {
			t.Error("digests changed on second HashAll")
		}
	})
}
