package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
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
	tiktokBatchSize      = 10000
	tiktokMinIdentifiers = 1000
)

var advertiserIDRe = regexp.MustCompile(`^\d+$`)

var _ adapter.AudiencePlatformAdapter = (*TikTokAdapter)(nil)

// TikTokAdapter manages custom audiences (segments) through the business API.
// Uploads are synchronous appends with per-batch accepted/invalid counts.
type TikTokAdapter struct {
	accessToken string
	base        string
	client      *http.Client
	limiter     *redis.RateLimiter
	policy      retry.Policy
}

func NewTikTokAdapter(creds config.PlatformCredentials, limiter *redis.RateLimiter, policy retry.Policy) (*TikTokAdapter, error) {
	if creds.AccessToken == "" {
		return nil, errors.New("tiktok access token empty")
	}
	base := creds.BaseURL
	if base == "" {
		base = "https://business-api.tiktok.com/open_api/v1.3"
	}
	return &TikTokAdapter{
		accessToken: creds.AccessToken,
		base:        strings.TrimRight(base, "/"),
		client:      &http.Client{Timeout: 30 * time.Second},
		limiter:     limiter,
		policy:      policy,
	}, nil
}

func (t *TikTokAdapter) Platform() model.Platform { return model.PlatformTikTok }

// PreflightCheck enforces a numeric advertiser id, the hard minimum of 1,000
// identifiers, a single identifier type and the restriction to email, phone
// and mobile ad ids.
func (t *TikTokAdapter) PreflightCheck(cfg model.ChannelConfig, ids []*model.UserIdentifier) error {
	if !advertiserIDRe.MatchString(cfg.AccountID) {
		return fmt.Errorf("%w: tiktok advertiser id must be numeric, got %q", domain.ErrPreflightFailed, cfg.AccountID)
	}
	if len(ids) < tiktokMinIdentifiers {
		return fmt.Errorf("%w: tiktok custom audiences need at least %d identifiers, got %d", domain.ErrPreflightFailed, tiktokMinIdentifiers, len(ids))
	}
	typ, ok := model.HomogeneousType(ids)
	if !ok {
		return fmt.Errorf("%w: tiktok requires a single identifier type per audience", domain.ErrPreflightFailed)
	}
	switch typ {
	case model.IdentifierEmail, model.IdentifierPhone, model.IdentifierMobileAdID:
	default:
		return fmt.Errorf("%w: tiktok does not accept %s identifiers", domain.ErrPreflightFailed, typ)
	}
	return nil
}

func (t *TikTokAdapter) CreateAudience(ctx context.Context, cfg model.ChannelConfig, ids []*model.UserIdentifier) (string, error) {
	typ, _ := model.HomogeneousType(ids)
	payload := map[string]any{
		"advertiser_id":        cfg.AccountID,
		"custom_audience_name": cfg.AudienceName,
		"audience_sub_type":    "NORMAL",
		"calculate_type":       tiktokCalculateType(typ),
	}
	var out struct {
		CustomAudienceID string `json:"custom_audience_id"`
	}
	if err := t.call(ctx, "/dmp/custom_audience/create/", payload, &out); err != nil {
		return "", err
	}
	if out.CustomAudienceID == "" {
		return "", errors.New("tiktok returned no custom audience id")
	}
	return out.CustomAudienceID, nil
}

func (t *TikTokAdapter) UploadIdentifiers(ctx context.Context, cfg model.ChannelConfig, remoteID string, ids []*model.UserIdentifier) (*adapter.UploadResult, error) {
	return t.append(ctx, cfg, remoteID, ids, "APPEND")
}

func (t *TikTokAdapter) append(ctx context.Context, cfg model.ChannelConfig, remoteID string, ids []*model.UserIdentifier, action string) (*adapter.UploadResult, error) {
	if err := requireHashed(ids); err != nil {
		return nil, err
	}

	var accepted, invalid int64
	for i, batch := range chunk(ids, tiktokBatchSize) {
		list := make([]string, 0, len(batch))
		for _, id := range batch {
			list = append(list, id.Hashed())
		}
		payload := map[string]any{
			"advertiser_id":      cfg.AccountID,
			"custom_audience_id": remoteID,
			"action":             action,
			"id_list":            list,
		}
		var out struct {
			AcceptedCount int64 `json:"accepted_count"`
			InvalidCount  int64 `json:"invalid_count"`
		}
		err := retry.Do(ctx, t.policy, countRetries(t.Platform(), strings.ToLower(action), func(ctx context.Context) error {
			return t.call(ctx, "/dmp/custom_audience/update/", payload, &out)
		}))
		if err != nil {
			metrics.IncUploadBatch(string(t.Platform()), "error")
			return nil, fmt.Errorf("%s batch %d: %w", strings.ToLower(action), i, err)
		}
		metrics.IncUploadBatch(string(t.Platform()), "ok")
		metrics.AddUploadedIdentifiers(string(t.Platform()), len(batch))
		accepted += out.AcceptedCount
		invalid += out.InvalidCount
	}

	total := int64(len(ids))
	matched := accepted - invalid
	if matched < 0 {
		matched = 0
	}
	var rate float64
	if total > 0 {
		rate = float64(matched) / float64(total) * 100
	}
	return &adapter.UploadResult{
		Received:     accepted,
		Invalid:      invalid,
		MatchedCount: matched,
		MatchRate:    rate,
	}, nil
}

func (t *TikTokAdapter) GetStatus(ctx context.Context, cfg model.ChannelConfig, remoteID string) (*model.ActivationChannelStatus, error) {
	payload := map[string]any{
		"advertiser_id":       cfg.AccountID,
		"custom_audience_ids": []string{remoteID},
	}
	var out struct {
		List []struct {
			CustomAudienceID string `json:"custom_audience_id"`
			AudienceSize     int64  `json:"audience_size"`
		} `json:"list"`
	}
	if err := t.call(ctx, "/dmp/custom_audience/get/", payload, &out); err != nil {
		return nil, err
	}
	if len(out.List) == 0 {
		return nil, domain.ErrNotFound
	}
	return &model.ActivationChannelStatus{
		Platform:         model.PlatformTikTok,
		AccountID:        cfg.AccountID,
		RemoteAudienceID: remoteID,
		Status:           model.ChannelStatusActive,
		MatchedCount:     out.List[0].AudienceSize,
	}, nil
}

func (t *TikTokAdapter) UpdateAudience(ctx context.Context, cfg model.ChannelConfig, remoteID string, add, remove []*model.UserIdentifier) (*adapter.UploadResult, error) {
	if len(add) > 0 {
		return t.append(ctx, cfg, remoteID, add, "APPEND")
	}
	return t.append(ctx, cfg, remoteID, remove, "REMOVE")
}

func (t *TikTokAdapter) DeleteAudience(ctx context.Context, cfg model.ChannelConfig, remoteID string) error {
	payload := map[string]any{
		"advertiser_id":       cfg.AccountID,
		"custom_audience_ids": []string{remoteID},
	}
	return t.call(ctx, "/dmp/custom_audience/delete/", payload, nil)
}

// call posts JSON and unwraps TikTok's envelope into out: every response
// carries a code, and anything non-zero is an error even on HTTP 200.
func (t *TikTokAdapter) call(ctx context.Context, path string, payload, out any) error {
	if err := acquire(ctx, t.limiter, t.Platform()); err != nil {
		return err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Access-Token", t.accessToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusErr("tiktok", resp.StatusCode)
	}

	var envelope struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	if envelope.Code != 0 {
		err := fmt.Errorf("tiktok code %d: %s", envelope.Code, envelope.Message)
		// 401xx codes are auth/permission problems; retrying cannot fix them.
		if envelope.Code >= 40100 && envelope.Code < 40200 {
			return retry.Permanent(err)
		}
		return err
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

func tiktokCalculateType(t model.IdentifierType) string {
	switch t {
	case model.IdentifierEmail:
		return "EMAIL_SHA256"
	case model.IdentifierPhone:
		return "PHONE_SHA256"
	default:
		return "IDFA_SHA256"
	}
}
