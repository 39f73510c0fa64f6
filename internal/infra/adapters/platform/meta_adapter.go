package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"audience-activation/internal/config"
	"audience-activation/internal/domain"
	"audience-activation/internal/domain/model"
	"audience-activation/internal/domain/ports/adapter"
	"audience-activation/internal/infra/metrics"
	"audience-activation/internal/infra/redis"
	"audience-activation/internal/infra/retry"
)

const (
	metaBatchSize      = 10000
	metaMinIdentifiers = 20
)

var _ adapter.AudiencePlatformAdapter = (*MetaAdapter)(nil)

// MetaAdapter manages Custom Audiences through the Graph API. Uploads are
// synchronous: each batch response reports received and invalid counts, which
// the adapter folds into a locally derived match rate.
type MetaAdapter struct {
	accessToken string
	base        string
	client      *http.Client
	limiter     *redis.RateLimiter
	policy      retry.Policy
}

func NewMetaAdapter(creds config.PlatformCredentials, limiter *redis.RateLimiter, policy retry.Policy) (*MetaAdapter, error) {
	if creds.AccessToken == "" {
		return nil, errors.New("meta access token empty")
	}
	base := creds.BaseURL
	if base == "" {
		base = "https://graph.facebook.com/v19.0"
	}
	return &MetaAdapter{
		accessToken: creds.AccessToken,
		base:        strings.TrimRight(base, "/"),
		client:      &http.Client{Timeout: 30 * time.Second},
		limiter:     limiter,
		policy:      policy,
	}, nil
}

func (m *MetaAdapter) Platform() model.Platform { return model.PlatformMeta }

// PreflightCheck enforces the act_ account prefix and the hard minimum of 20
// identifiers. Meta accepts mixed identifier types, so no homogeneity check.
func (m *MetaAdapter) PreflightCheck(cfg model.ChannelConfig, ids []*model.UserIdentifier) error {
	if !strings.HasPrefix(cfg.AccountID, "act_") {
		return fmt.Errorf("%w: meta ad account id must be prefixed act_, got %q", domain.ErrPreflightFailed, cfg.AccountID)
	}
	if len(ids) < metaMinIdentifiers {
		return fmt.Errorf("%w: meta custom audiences need at least %d identifiers, got %d", domain.ErrPreflightFailed, metaMinIdentifiers, len(ids))
	}
	return nil
}

func (m *MetaAdapter) CreateAudience(ctx context.Context, cfg model.ChannelConfig, ids []*model.UserIdentifier) (string, error) {
	payload := map[string]any{
		"name":                 cfg.AudienceName,
		"subtype":              "CUSTOM",
		"customer_file_source": "USER_PROVIDED_ONLY",
	}
	if cfg.SpecialAdCategory {
		payload["special_ad_categories"] = []string{"HOUSING", "EMPLOYMENT", "CREDIT"}
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := m.call(ctx, http.MethodPost, "/"+cfg.AccountID+"/customaudiences", payload, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("meta returned no audience id")
	}
	return out.ID, nil
}

// UploadIdentifiers sends users in 10,000-row batches. The schema is the
// union of identifier types present; each row fills its own column and leaves
// the rest empty, which is how Meta represents mixed-type lists.
func (m *MetaAdapter) UploadIdentifiers(ctx context.Context, cfg model.ChannelConfig, remoteID string, ids []*model.UserIdentifier) (*adapter.UploadResult, error) {
	if err := requireHashed(ids); err != nil {
		return nil, err
	}
	schema := metaSchema(ids)

	var received, invalid int64
	for i, batch := range chunk(ids, metaBatchSize) {
		payload := map[string]any{
			"payload": map[string]any{
				"schema": schema,
				"data":   metaRows(schema, batch),
			},
		}
		var out struct {
			NumReceived       int64 `json:"num_received"`
			NumInvalidEntries int64 `json:"num_invalid_entries"`
		}
		err := retry.Do(ctx, m.policy, countRetries(m.Platform(), "upload", func(ctx context.Context) error {
			return m.call(ctx, http.MethodPost, "/"+remoteID+"/users", payload, &out)
		}))
		if err != nil {
			metrics.IncUploadBatch(string(m.Platform()), "error")
			return nil, fmt.Errorf("upload batch %d: %w", i, err)
		}
		metrics.IncUploadBatch(string(m.Platform()), "ok")
		metrics.AddUploadedIdentifiers(string(m.Platform()), len(batch))
		received += out.NumReceived
		invalid += out.NumInvalidEntries
	}

	total := int64(len(ids))
	matched := received - invalid
	if matched < 0 {
		matched = 0
	}
	var rate float64
	if total > 0 {
		rate = float64(matched) / float64(total) * 100
	}
	return &adapter.UploadResult{
		Received:     received,
		Invalid:      invalid,
		MatchedCount: matched,
		MatchRate:    rate,
	}, nil
}

func (m *MetaAdapter) GetStatus(ctx context.Context, cfg model.ChannelConfig, remoteID string) (*model.ActivationChannelStatus, error) {
	var out struct {
		ID               string `json:"id"`
		ApproximateCount int64  `json:"approximate_count_lower_bound"`
		DeliveryStatus   struct {
			Code int `json:"code"`
		} `json:"delivery_status"`
	}
	if err := m.call(ctx, http.MethodGet, "/"+remoteID+"?fields=id,approximate_count_lower_bound,delivery_status", nil, &out); err != nil {
		return nil, err
	}
	return &model.ActivationChannelStatus{
		Platform:         model.PlatformMeta,
		AccountID:        cfg.AccountID,
		RemoteAudienceID: remoteID,
		Status:           model.ChannelStatusActive,
		MatchedCount:     out.ApproximateCount,
	}, nil
}

func (m *MetaAdapter) UpdateAudience(ctx context.Context, cfg model.ChannelConfig, remoteID string, add, remove []*model.UserIdentifier) (*adapter.UploadResult, error) {
	if len(add) > 0 {
		return m.UploadIdentifiers(ctx, cfg, remoteID, add)
	}
	if err := requireHashed(remove); err != nil {
		return nil, err
	}
	schema := metaSchema(remove)
	var received int64
	for i, batch := range chunk(remove, metaBatchSize) {
		payload := map[string]any{
			"payload": map[string]any{
				"schema": schema,
				"data":   metaRows(schema, batch),
			},
		}
		var out struct {
			NumReceived int64 `json:"num_received"`
		}
		err := retry.Do(ctx, m.policy, countRetries(m.Platform(), "remove", func(ctx context.Context) error {
			return m.call(ctx, http.MethodDelete, "/"+remoteID+"/users", payload, &out)
		}))
		if err != nil {
			return nil, fmt.Errorf("remove batch %d: %w", i, err)
		}
		received += out.NumReceived
	}
	return &adapter.UploadResult{Received: received}, nil
}

func (m *MetaAdapter) DeleteAudience(ctx context.Context, cfg model.ChannelConfig, remoteID string) error {
	return m.call(ctx, http.MethodDelete, "/"+remoteID, nil, nil)
}

func (m *MetaAdapter) call(ctx context.Context, method, path string, payload, out any) error {
	if err := acquire(ctx, m.limiter, m.Platform()); err != nil {
		return err
	}
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.accessToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusErr("meta", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func metaColumn(t model.IdentifierType) string {
	switch t {
	case model.IdentifierEmail:
		return "EMAIL_SHA256"
	case model.IdentifierPhone:
		return "PHONE_SHA256"
	case model.IdentifierMobileAdID:
		return "MADID_SHA256"
	default:
		return "EXTERN_ID"
	}
}

// metaSchema builds the column list for the types present, in a stable order.
func metaSchema(ids []*model.UserIdentifier) []string {
	order := []model.IdentifierType{
		model.IdentifierEmail,
		model.IdentifierPhone,
		model.IdentifierMobileAdID,
		model.IdentifierCRMID,
	}
	present := map[model.IdentifierType]bool{}
	for _, id := range ids {
		present[id.Type] = true
	}
	var schema []string
	for _, t := range order {
		if present[t] {
			schema = append(schema, metaColumn(t))
		}
	}
	return schema
}

func metaRows(schema []string, batch []*model.UserIdentifier) [][]string {
	col := map[string]int{}
	for i, s := range schema {
		col[s] = i
	}
	rows := make([][]string, 0, len(batch))
	for _, id := range batch {
		row := make([]string, len(schema))
		row[col[metaColumn(id.Type)]] = id.Hashed()
		rows = append(rows, row)
	}
	return rows
}
