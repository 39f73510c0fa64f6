//go:build !integration

package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"audience-activation/internal/config"
	"audience-activation/internal/domain"
	"audience-activation/internal/domain/model"
	"audience-activation/internal/infra/retry"
)

func testPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond}
}

func hashedIDs(t *testing.T, typ model.IdentifierType, n int) []*model.UserIdentifier {
	t.Helper()
	out := make([]*model.UserIdentifier, 0, n)
	for i := 0; i < n; i++ {
		raw := fmt.Sprintf("user%d@example.com", i)
		if typ == model.IdentifierPhone {
			raw = fmt.Sprintf("+1415555%04d", i)
		}
		id, err := model.NewUserIdentifier(typ, raw)
		if err != nil {
			t.Fatalf("NewUserIdentifier: %v", err)
		}
		if err := id.SetHashed(fmt.Sprintf("%064x", i+1)); err != nil {
			t.Fatalf("SetHashed: %v", err)
		}
		out = append(out, id)
	}
	return out
}

func newMeta(t *testing.T, baseURL string) *MetaAdapter {
	t.Helper()
	m, err := NewMetaAdapter(config.PlatformCredentials{AccessToken: "tok", BaseURL: baseURL}, nil, testPolicy())
	if err != nil {
		t.Fatalf("NewMetaAdapter: %v", err)
	}
	return m
}

func metaCfg() model.ChannelConfig {
	return model.ChannelConfig{Platform: model.PlatformMeta, AccountID: "act_123", AudienceName: "buyers"}
}

func TestMetaPreflight(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()
	m := newMeta(t, srv.URL)

	t.Run("rejects account without act_ prefix", func(t *testing.T) {
		cfg := metaCfg()
		cfg.AccountID = "123"
		err := m.PreflightCheck(cfg, hashedIDs(t, model.IdentifierEmail, 20))
		if !errors.Is(err, domain.ErrPreflightFailed) {
			t.Errorf("expected ErrPreflightFailed, got %v", err)
		}
	})

	t.Run("rejects fewer than 20 identifiers", func(t *testing.T) {
		err := m.PreflightCheck(metaCfg(), hashedIDs(t, model.IdentifierEmail, 19))
		if !errors.Is(err, domain.ErrPreflightFailed) {
			t.Errorf("expected ErrPreflightFailed, got %v", err)
		}
		if err != nil && !strings.Contains(err.Error(), "20") {
			t.Errorf("error should name the minimum, got: %v", err)
		}
	})

	t.Run("accepts mixed identifier types", func(t *testing.T) {
		ids := append(hashedIDs(t, model.IdentifierEmail, 10), hashedIDs(t, model.IdentifierPhone, 10)...)
		if err := m.PreflightCheck(metaCfg(), ids); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("preflight must issue zero HTTP calls, got %d", got)
	}
}

func TestMetaCreateAndUpload(t *testing.T) {
	var createCalls, uploadCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/act_123/customaudiences"):
			atomic.AddInt32(&createCalls, 1)
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["subtype"] != "CUSTOM" {
				t.Errorf("subtype = %v", body["subtype"])
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "238"})
		case strings.HasSuffix(r.URL.Path, "/238/users"):
			atomic.AddInt32(&uploadCalls, 1)
			var body struct {
				Payload struct {
					Schema []string   `json:"schema"`
					Data   [][]string `json:"data"`
				} `json:"payload"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if len(body.Payload.Schema) != 1 || body.Payload.Schema[0] != "EMAIL_SHA256" {
				t.Errorf("schema = %v", body.Payload.Schema)
			}
			_ = json.NewEncoder(w).Encode(map[string]int{
				"num_received":        len(body.Payload.Data),
				"num_invalid_entries": 0,
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	m := newMeta(t, srv.URL)

	remoteID, err := m.CreateAudience(context.Background(), metaCfg(), hashedIDs(t, model.IdentifierEmail, 2))
	if err != nil {
		t.Fatalf("CreateAudience: %v", err)
	}
	if remoteID != "238" {
		t.Errorf("remoteID = %q", remoteID)
	}

	res, err := m.UploadIdentifiers(context.Background(), metaCfg(), remoteID, hashedIDs(t, model.IdentifierEmail, 2))
	if err != nil {
		t.Fatalf("UploadIdentifiers: %v", err)
	}
	if res.Received != 2 || res.Invalid != 0 {
		t.Errorf("received=%d invalid=%d", res.Received, res.Invalid)
	}
	if res.MatchedCount != 2 || res.MatchRate != 100 {
		t.Errorf("matched=%d rate=%f", res.MatchedCount, res.MatchRate)
	}
	if atomic.LoadInt32(&uploadCalls) != 1 {
		t.Errorf("expected a single batch for 2 identifiers, got %d", uploadCalls)
	}
}

func TestMetaMixedSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Payload struct {
				Schema []string   `json:"schema"`
				Data   [][]string `json:"data"`
			} `json:"payload"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		want := []string{"EMAIL_SHA256", "PHONE_SHA256"}
		if len(body.Payload.Schema) != 2 || body.Payload.Schema[0] != want[0] || body.Payload.Schema[1] != want[1] {
			t.Errorf("schema = %v, want %v", body.Payload.Schema, want)
		}
		for _, row := range body.Payload.Data {
			if len(row) != 2 {
				t.Errorf("row width %d, want 2", len(row))
			}
			if (row[0] == "") == (row[1] == "") {
				t.Errorf("each row must fill exactly one column: %v", row)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"num_received": len(body.Payload.Data), "num_invalid_entries": 0})
	}))
	defer srv.Close()
	m := newMeta(t, srv.URL)

	ids := append(hashedIDs(t, model.IdentifierEmail, 3), hashedIDs(t, model.IdentifierPhone, 3)...)
	res, err := m.UploadIdentifiers(context.Background(), metaCfg(), "238", ids)
	if err != nil {
		t.Fatalf("UploadIdentifiers: %v", err)
	}
	if res.Received != 6 {
		t.Errorf("received = %d", res.Received)
	}
}

func TestMetaRemoteErrors(t *testing.T) {
	t.Run("5xx is retried until the budget runs out", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		m := newMeta(t, srv.URL)

		_, err := m.UploadIdentifiers(context.Background(), metaCfg(), "238", hashedIDs(t, model.IdentifierEmail, 2))
		if err == nil {
			t.Fatal("expected an error")
		}
		if got := atomic.LoadInt32(&calls); got != 3 {
			t.Errorf("expected maxRetries+1 = 3 attempts, got %d", got)
		}
	})

	t.Run("401 is permanent and not retried", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()
		m := newMeta(t, srv.URL)

		_, err := m.UploadIdentifiers(context.Background(), metaCfg(), "238", hashedIDs(t, model.IdentifierEmail, 2))
		if err == nil {
			t.Fatal("expected an error")
		}
		if got := atomic.LoadInt32(&calls); got != 1 {
			t.Errorf("auth failure must not be retried, got %d attempts", got)
		}
	})

	t.Run("unhashed identifiers never reach the wire", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
		}))
		defer srv.Close()
		m := newMeta(t, srv.URL)

		raw, _ := model.NewUserIdentifier(model.IdentifierEmail, "plain@example.com")
		_, err := m.UploadIdentifiers(context.Background(), metaCfg(), "238", []*model.UserIdentifier{raw})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
		if atomic.LoadInt32(&calls) != 0 {
			t.Error("plaintext batch must not be transmitted")
		}
	})
}

func TestMetaDelete(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()
	m := newMeta(t, srv.URL)

	if err := m.DeleteAudience(context.Background(), metaCfg(), "238"); err != nil {
		t.Fatalf("DeleteAudience: %v", err)
	}
	if method != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", method)
	}
}
