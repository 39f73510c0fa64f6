package usecase

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"audience-activation/internal/domain"
	"audience-activation/internal/domain/identity"
	"audience-activation/internal/domain/model"
	"audience-activation/internal/domain/ports/adapter"
	"audience-activation/internal/domain/ports/repository"
	"audience-activation/internal/infra/logging"
	"audience-activation/internal/infra/metrics"
	"audience-activation/internal/infra/retry"
)

// ActivationRequest is the inbound contract from the orchestration layer.
// Approval gating happens upstream; a request reaching the engine is assumed
// approved.
type ActivationRequest struct {
	AudienceID  string
	TenantID    string
	RequestedBy string
	Channels    []model.ChannelConfig
	Identifiers []*model.UserIdentifier
}

// ActivationUseCase runs the activation lifecycle per requested platform and
// aggregates the outcomes.
type ActivationUseCase struct {
	adapters map[model.Platform]adapter.AudiencePlatformAdapter
	hasher   *identity.Hasher
	repo     repository.ActivationRepository
	orphans  repository.OrphanRepository
	policy   retry.Policy
	log      *zerolog.Logger
}

func NewActivationUseCase(
	adapters map[model.Platform]adapter.AudiencePlatformAdapter,
	hasher *identity.Hasher,
	repo repository.ActivationRepository,
	orphans repository.OrphanRepository,
	policy retry.Policy,
	logger *zerolog.Logger,
) *ActivationUseCase {
	l := logger.With().Str("component", "ActivationUseCase").Logger()
	return &ActivationUseCase{
		adapters: adapters,
		hasher:   hasher,
		repo:     repo,
		orphans:  orphans,
		policy:   policy,
		log:      &l,
	}
}

// Activate validates and hashes the whole identifier batch once, then runs
// every requested channel lifecycle concurrently and waits for all of them to
// terminate. The batch is shared read-only between channel runs; each run
// mutates only its own ActivationChannelStatus.
func (uc *ActivationUseCase) Activate(ctx context.Context, req *ActivationRequest) (*model.Activation, error) {
	if req == nil || len(req.Identifiers) == 0 {
		return nil, fmt.Errorf("%w: no identifiers", domain.ErrInvalidArgument)
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	act, err := model.NewActivation(id, req.AudienceID, req.TenantID, req.RequestedBy, req.Channels)
	if err != nil {
		return nil, err
	}
	act.IdentifierCount = len(req.Identifiers)
	act.IdentifierTypes = identifierTypes(req.Identifiers)

	ctx = logging.WithActivationID(ctx, act.ID)
	log := logging.With(ctx, uc.log)

	// Whole-batch rejection: one malformed identifier fails the request
	// before any channel starts, so ordinal positions stay meaningful.
	if err := uc.hasher.HashAll(req.Identifiers); err != nil {
		log.Warn().Err(err).Int("count", len(req.Identifiers)).Msg("identifier batch rejected")
		return nil, err
	}

	if uc.repo != nil {
		if err := uc.repo.Save(ctx, act); err != nil {
			return nil, fmt.Errorf("persist activation: %w", err)
		}
	}

	var wg sync.WaitGroup
	for i, cfg := range req.Channels {
		wg.Add(1)
		go func(cfg model.ChannelConfig, ch *model.ActivationChannelStatus) {
			defer wg.Done()
			uc.runChannel(ctx, act, cfg, ch, req.Identifiers)
		}(cfg, act.Channels[i])
	}
	wg.Wait()

	overall := act.OverallStatus()
	metrics.IncActivation(string(overall))
	log.Info().
		Str("audience_id", act.AudienceID).
		Str("overall_status", string(overall)).
		Int("channels", len(act.Channels)).
		Msg("activation finished")

	if uc.repo != nil {
		if err := uc.repo.Save(ctx, act); err != nil {
			log.Error().Err(err).Msg("persist final activation state")
		}
	}
	return act, nil
}

// runChannel walks one platform through the lifecycle. Failures are contained
// to this channel; sibling runs never observe them.
func (uc *ActivationUseCase) runChannel(ctx context.Context, act *model.Activation, cfg model.ChannelConfig, ch *model.ActivationChannelStatus, ids []*model.UserIdentifier) {
	log := logging.With(ctx, uc.log).With().Str("platform", string(cfg.Platform)).Logger()
	start := time.Now()

	defer func() {
		metrics.IncChannelOutcome(string(cfg.Platform), string(ch.Status))
		metrics.ObserveChannelDuration(string(cfg.Platform), time.Since(start).Seconds())
		uc.persistChannel(ctx, act.ID, ch, &log)
	}()

	pa, ok := uc.adapters[cfg.Platform]
	if !ok {
		ch.Fail(fmt.Errorf("%w: no adapter for platform %s", domain.ErrInvalidArgument, cfg.Platform))
		return
	}

	// The batch was validated and hashed before this run started; the
	// validating/hashing stages assert that so the recorded history still
	// walks every state.
	if err := ch.Advance(model.ChannelStatusValidating); err != nil {
		ch.Fail(err)
		return
	}
	if err := identity.ValidateAll(ids); err != nil {
		ch.Fail(err)
		return
	}
	if err := ch.Advance(model.ChannelStatusHashing); err != nil {
		ch.Fail(err)
		return
	}
	for i, id := range ids {
		if !id.IsHashed() {
			ch.Fail(fmt.Errorf("%w: identifier %d missing digest", domain.ErrInvalidArgument, i))
			return
		}
	}

	if err := ch.Advance(model.ChannelStatusPreflight); err != nil {
		ch.Fail(err)
		return
	}
	if err := pa.PreflightCheck(cfg, ids); err != nil {
		log.Warn().Err(err).Msg("preflight rejected channel")
		ch.Fail(err)
		return
	}

	if err := ch.Advance(model.ChannelStatusCreating); err != nil {
		ch.Fail(err)
		return
	}
	remoteID, err := retry.DoValue(ctx, uc.policy, func(ctx context.Context) (string, error) {
		return pa.CreateAudience(ctx, cfg, ids)
	})
	if err != nil {
		log.Error().Err(err).Msg("remote audience creation failed")
		ch.Fail(err)
		return
	}
	ch.RemoteAudienceID = remoteID

	if err := ch.Advance(model.ChannelStatusUploading); err != nil {
		ch.Fail(err)
		return
	}
	res, err := pa.UploadIdentifiers(ctx, cfg, remoteID, ids)
	if err != nil {
		log.Error().Err(err).Str("remote_audience_id", remoteID).Msg("upload failed; remote audience orphaned")
		ch.Fail(err)
		uc.recordOrphan(ctx, act.ID, cfg, remoteID, &log)
		return
	}

	if err := ch.Complete(res.MatchedCount, res.MatchRate); err != nil {
		ch.Fail(err)
		return
	}
	metrics.ObserveMatchRate(string(cfg.Platform), res.MatchRate)
	log.Info().
		Str("remote_audience_id", remoteID).
		Int64("matched", res.MatchedCount).
		Float64("match_rate", res.MatchRate).
		Msg("channel active")
}

// GetStatus returns the stored activation, including per-channel progress
// persisted while the lifecycles were running.
func (uc *ActivationUseCase) GetStatus(ctx context.Context, activationID string) (*model.Activation, error) {
	if uc.repo == nil {
		return nil, domain.ErrNotFound
	}
	return uc.repo.FindByID(ctx, activationID)
}

// History lists recent activations for one audience, newest first.
func (uc *ActivationUseCase) History(ctx context.Context, audienceID string, limit int) ([]*model.Activation, error) {
	if audienceID == "" {
		return nil, fmt.Errorf("%w: empty audience id", domain.ErrInvalidArgument)
	}
	if uc.repo == nil {
		return nil, domain.ErrNotFound
	}
	return uc.repo.ListByAudience(ctx, audienceID, limit)
}

// ChannelStatus queries the platform directly for a live snapshot of one
// remote audience.
func (uc *ActivationUseCase) ChannelStatus(ctx context.Context, cfg model.ChannelConfig, remoteID string) (*model.ActivationChannelStatus, error) {
	pa, ok := uc.adapters[cfg.Platform]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for platform %s", domain.ErrInvalidArgument, cfg.Platform)
	}
	return pa.GetStatus(ctx, cfg, remoteID)
}

func (uc *ActivationUseCase) recordOrphan(ctx context.Context, activationID string, cfg model.ChannelConfig, remoteID string, log *zerolog.Logger) {
	if uc.orphans == nil {
		return
	}
	o := &repository.OrphanAudience{
		ID:               ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		ActivationID:     activationID,
		Platform:         cfg.Platform,
		AccountID:        cfg.AccountID,
		RemoteAudienceID: remoteID,
		Status:           repository.OrphanPending,
		CreatedAt:        time.Now(),
	}
	if err := uc.orphans.Save(ctx, o); err != nil {
		log.Error().Err(err).Str("remote_audience_id", remoteID).Msg("record orphan")
	}
}

func (uc *ActivationUseCase) persistChannel(ctx context.Context, activationID string, ch *model.ActivationChannelStatus, log *zerolog.Logger) {
	if uc.repo == nil {
		return
	}
	if err := uc.repo.SaveChannel(ctx, activationID, ch); err != nil {
		log.Error().Err(err).Msg("persist channel status")
	}
}

func identifierTypes(ids []*model.UserIdentifier) []model.IdentifierType {
	seen := map[model.IdentifierType]bool{}
	var out []model.IdentifierType
	for _, id := range ids {
		if !seen[id.Type] {
			seen[id.Type] = true
			out = append(out, id.Type)
		}
	}
	return out
}
