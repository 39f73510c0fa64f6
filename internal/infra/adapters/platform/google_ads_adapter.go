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

	"github.com/rs/zerolog"

	"audience-activation/internal/config"
	"audience-activation/internal/domain"
	"audience-activation/internal/domain/model"
	"audience-activation/internal/domain/ports/adapter"
	"audience-activation/internal/infra/metrics"
	"audience-activation/internal/infra/redis"
	"audience-activation/internal/infra/retry"
)

const (
	googleAdsBatchSize     = 5000
	googleAdsMaxMembership = 540 // days
	googleAdsWarnBelow     = 100
	googleAdsPollInterval  = 2 * time.Second
	googleAdsPollTimeout   = 60 * time.Second
)

var customerIDRe = regexp.MustCompile(`^\d{10}$`)

var _ adapter.AudiencePlatformAdapter = (*GoogleAdsAdapter)(nil)

// GoogleAdsAdapter uploads Customer Match lists through offline user data
// jobs. Ingestion is asynchronous: after submitting all batches the adapter
// runs the job and polls until it terminates.
type GoogleAdsAdapter struct {
	accessToken    string
	developerToken string
	base           string
	client         *http.Client
	limiter        *redis.RateLimiter
	policy         retry.Policy
	log            *zerolog.Logger
}

func NewGoogleAdsAdapter(creds config.PlatformCredentials, limiter *redis.RateLimiter, policy retry.Policy, logger *zerolog.Logger) (*GoogleAdsAdapter, error) {
	if creds.AccessToken == "" {
		return nil, errors.New("google ads access token empty")
	}
	if creds.DeveloperToken == "" {
		return nil, errors.New("google ads developer token empty")
	}
	base := creds.BaseURL
	if base == "" {
		base = "https://googleads.googleapis.com/v16"
	}
	l := logger.With().Str("adapter", "google_ads").Logger()
	return &GoogleAdsAdapter{
		accessToken:    creds.AccessToken,
		developerToken: creds.DeveloperToken,
		base:           strings.TrimRight(base, "/"),
		client:         &http.Client{Timeout: 30 * time.Second},
		limiter:        limiter,
		policy:         policy,
		log:            &l,
	}, nil
}

func (g *GoogleAdsAdapter) Platform() model.Platform { return model.PlatformGoogleAds }

// PreflightCheck enforces Customer Match constraints locally: a 10-digit
// customer id, one identifier type across the list, and a membership duration
// of at most 540 days. Lists below 100 members only draw a warning; Google
// accepts them but rarely matches enough to serve.
func (g *GoogleAdsAdapter) PreflightCheck(cfg model.ChannelConfig, ids []*model.UserIdentifier) error {
	cid := strings.ReplaceAll(cfg.AccountID, "-", "")
	if !customerIDRe.MatchString(cid) {
		return fmt.Errorf("%w: google ads customer id must be 10 digits, got %q", domain.ErrPreflightFailed, cfg.AccountID)
	}
	if cfg.MembershipDays > googleAdsMaxMembership {
		return fmt.Errorf("%w: membership duration %d exceeds google ads maximum of %d days", domain.ErrPreflightFailed, cfg.MembershipDays, googleAdsMaxMembership)
	}
	if _, ok := model.HomogeneousType(ids); !ok {
		return fmt.Errorf("%w: google ads requires a single identifier type per list", domain.ErrPreflightFailed)
	}
	if len(ids) < googleAdsWarnBelow {
		g.log.Warn().Int("count", len(ids)).Msg("list below 100 identifiers; match rate will likely be poor")
	}
	return nil
}

func (g *GoogleAdsAdapter) CreateAudience(ctx context.Context, cfg model.ChannelConfig, ids []*model.UserIdentifier) (string, error) {
	cid := strings.ReplaceAll(cfg.AccountID, "-", "")
	t, _ := model.HomogeneousType(ids)

	membership := cfg.MembershipDays
	if membership == 0 {
		membership = googleAdsMaxMembership
	}
	payload := map[string]any{
		"operations": []map[string]any{{
			"create": map[string]any{
				"name":               cfg.AudienceName,
				"membershipLifeSpan": membership,
				"crmBasedUserList": map[string]any{
					"uploadKeyType": uploadKeyType(t),
				},
			},
		}},
	}
	var out struct {
		Results []struct {
			ResourceName string `json:"resourceName"`
		} `json:"results"`
	}
	if err := g.call(ctx, http.MethodPost, fmt.Sprintf("/customers/%s/userLists:mutate", cid), payload, &out); err != nil {
		return "", err
	}
	if len(out.Results) == 0 || out.Results[0].ResourceName == "" {
		return "", errors.New("google ads returned no user list resource")
	}
	return out.Results[0].ResourceName, nil
}

// UploadIdentifiers creates an offline user data job bound to the list, adds
// operations in 5,000-identifier batches, runs the job and polls it to a
// terminal state.
func (g *GoogleAdsAdapter) UploadIdentifiers(ctx context.Context, cfg model.ChannelConfig, remoteID string, ids []*model.UserIdentifier) (*adapter.UploadResult, error) {
	if err := requireHashed(ids); err != nil {
		return nil, err
	}
	cid := strings.ReplaceAll(cfg.AccountID, "-", "")

	var jobName string
	err := retry.Do(ctx, g.policy, countRetries(g.Platform(), "create_job", func(ctx context.Context) error {
		name, err := g.createJob(ctx, cid, remoteID)
		if err != nil {
			return err
		}
		jobName = name
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("create offline user data job: %w", err)
	}

	for i, batch := range chunk(ids, googleAdsBatchSize) {
		batch := batch
		err := retry.Do(ctx, g.policy, countRetries(g.Platform(), "upload", func(ctx context.Context) error {
			return g.addOperations(ctx, jobName, batch)
		}))
		if err != nil {
			metrics.IncUploadBatch(string(g.Platform()), "error")
			return nil, fmt.Errorf("add operations batch %d: %w", i, err)
		}
		metrics.IncUploadBatch(string(g.Platform()), "ok")
		metrics.AddUploadedIdentifiers(string(g.Platform()), len(batch))
	}

	if err := retry.Do(ctx, g.policy, countRetries(g.Platform(), "run", func(ctx context.Context) error {
		return g.call(ctx, http.MethodPost, "/"+jobName+":run", map[string]any{}, nil)
	})); err != nil {
		return nil, fmt.Errorf("run job: %w", err)
	}

	rate, err := g.pollJob(ctx, jobName)
	if err != nil {
		return nil, err
	}

	total := int64(len(ids))
	matched := int64(float64(total) * rate / 100)
	return &adapter.UploadResult{
		Received:     total,
		MatchedCount: matched,
		MatchRate:    rate,
	}, nil
}

func (g *GoogleAdsAdapter) createJob(ctx context.Context, cid, userList string) (string, error) {
	payload := map[string]any{
		"job": map[string]any{
			"type": "CUSTOMER_MATCH_USER_LIST",
			"customerMatchUserListMetadata": map[string]any{
				"userList": userList,
			},
		},
	}
	var out struct {
		ResourceName string `json:"resourceName"`
	}
	if err := g.call(ctx, http.MethodPost, fmt.Sprintf("/customers/%s/offlineUserDataJobs:create", cid), payload, &out); err != nil {
		return "", err
	}
	if out.ResourceName == "" {
		return "", errors.New("google ads returned no job resource")
	}
	return out.ResourceName, nil
}

func (g *GoogleAdsAdapter) addOperations(ctx context.Context, jobName string, batch []*model.UserIdentifier) error {
	ops := make([]map[string]any, 0, len(batch))
	for _, id := range batch {
		ops = append(ops, map[string]any{
			"create": map[string]any{
				"userIdentifiers": []map[string]any{userIdentifierField(id)},
			},
		})
	}
	payload := map[string]any{"operations": ops, "enablePartialFailure": false}
	return g.call(ctx, http.MethodPost, "/"+jobName+":addOperations", payload, nil)
}

// pollJob polls every 2s until the job reports SUCCESS or FAILED, giving up
// after 60s. On success it returns the match rate derived from the reported
// range.
func (g *GoogleAdsAdapter) pollJob(ctx context.Context, jobName string) (float64, error) {
	deadline := time.Now().Add(googleAdsPollTimeout)
	ticker := time.NewTicker(googleAdsPollInterval)
	defer ticker.Stop()

	for {
		var out struct {
			Status   string `json:"status"`
			Metadata struct {
				MatchRateRange string `json:"matchRateRange"`
			} `json:"operationMetadata"`
			FailureReason string `json:"failureReason"`
		}
		err := retry.Do(ctx, g.policy, countRetries(g.Platform(), "poll", func(ctx context.Context) error {
			return g.call(ctx, http.MethodGet, "/"+jobName, nil, &out)
		}))
		if err != nil {
			return 0, fmt.Errorf("poll job: %w", err)
		}
		switch out.Status {
		case "SUCCESS":
			return matchRateFromRange(out.Metadata.MatchRateRange), nil
		case "FAILED":
			return 0, fmt.Errorf("offline user data job failed: %s", out.FailureReason)
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("%w: job still %q after %s", domain.ErrPollTimeout, out.Status, googleAdsPollTimeout)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (g *GoogleAdsAdapter) GetStatus(ctx context.Context, cfg model.ChannelConfig, remoteID string) (*model.ActivationChannelStatus, error) {
	var out struct {
		ResourceName        string  `json:"resourceName"`
		SizeForDisplay      int64   `json:"sizeForDisplay"`
		MatchRatePercentage float64 `json:"matchRatePercentage"`
	}
	if err := g.call(ctx, http.MethodGet, "/"+remoteID, nil, &out); err != nil {
		return nil, err
	}
	st := &model.ActivationChannelStatus{
		Platform:         model.PlatformGoogleAds,
		AccountID:        cfg.AccountID,
		RemoteAudienceID: remoteID,
		Status:           model.ChannelStatusActive,
		MatchedCount:     out.SizeForDisplay,
		MatchRate:        out.MatchRatePercentage,
	}
	return st, nil
}

func (g *GoogleAdsAdapter) UpdateAudience(ctx context.Context, cfg model.ChannelConfig, remoteID string, add, remove []*model.UserIdentifier) (*adapter.UploadResult, error) {
	if len(remove) > 0 {
		// Removal would need remove operations on a fresh job; additions
		// reuse the upload path unchanged.
		return nil, fmt.Errorf("%w: google ads identifier removal", domain.ErrUnsupported)
	}
	return g.UploadIdentifiers(ctx, cfg, remoteID, add)
}

// DeleteAudience always fails: the Google Ads API has no user list deletion.
// Reporting unsupported keeps orphan reconciliation honest instead of
// pretending cleanup happened.
func (g *GoogleAdsAdapter) DeleteAudience(ctx context.Context, cfg model.ChannelConfig, remoteID string) error {
	return fmt.Errorf("%w: google ads user lists cannot be deleted via API", domain.ErrUnsupported)
}

func (g *GoogleAdsAdapter) call(ctx context.Context, method, path string, payload, out any) error {
	if err := acquire(ctx, g.limiter, g.Platform()); err != nil {
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
	req, err := http.NewRequestWithContext(ctx, method, g.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	req.Header.Set("developer-token", g.developerToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusErr("google ads", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func uploadKeyType(t model.IdentifierType) string {
	switch t {
	case model.IdentifierMobileAdID:
		return "MOBILE_ADVERTISING_ID"
	case model.IdentifierCRMID:
		return "CRM_ID"
	default:
		return "CONTACT_INFO"
	}
}

func userIdentifierField(id *model.UserIdentifier) map[string]any {
	switch id.Type {
	case model.IdentifierEmail:
		return map[string]any{"hashedEmail": id.Hashed()}
	case model.IdentifierPhone:
		return map[string]any{"hashedPhoneNumber": id.Hashed()}
	case model.IdentifierMobileAdID:
		return map[string]any{"mobileId": id.Hashed()}
	default:
		return map[string]any{"thirdPartyUserId": id.Hashed()}
	}
}

// matchRateFromRange maps Google's coarse match-rate-range enum to the range
// midpoint. Callers must treat the result as an estimate, not a measurement.
func matchRateFromRange(r string) float64 {
	switch r {
	case "MATCH_RATE_RANGE_LESS_THAN_20":
		return 10
	case "MATCH_RATE_RANGE_20_TO_30":
		return 25
	case "MATCH_RATE_RANGE_31_TO_40":
		return 35.5
	case "MATCH_RATE_RANGE_41_TO_50":
		return 45.5
	case "MATCH_RATE_RANGE_51_TO_60":
		return 55.5
	case "MATCH_RATE_RANGE_61_TO_70":
		return 65.5
	case "MATCH_RATE_RANGE_71_TO_80":
		return 75.5
	case "MATCH_RATE_RANGE_81_TO_90":
		return 85.5
	case "MATCH_RATE_RANGE_91_TO_100":
		return 95.5
	default:
		return 0
	}
}
