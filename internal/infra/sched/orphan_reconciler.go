package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"audience-activation/internal/domain"
	"audience-activation/internal/domain/model"
	"audience-activation/internal/domain/ports/adapter"
	"audience-activation/internal/domain/ports/repository"
	"audience-activation/internal/infra/metrics"
)

// OrphanReconciler periodically deletes remote audiences left behind by
// failed runs. Platforms without API deletion (Google Ads) get marked for
// manual cleanup instead.
type OrphanReconciler struct {
	interval time.Duration
	repo     repository.OrphanRepository
	adapters map[model.Platform]adapter.AudiencePlatformAdapter
	log      *zerolog.Logger
}

func NewOrphanReconciler(interval time.Duration, repo repository.OrphanRepository, adapters map[model.Platform]adapter.AudiencePlatformAdapter, logger *zerolog.Logger) *OrphanReconciler {
	l := logger.With().Str("component", "OrphanReconciler").Logger()
	return &OrphanReconciler{
		interval: interval,
		repo:     repo,
		adapters: adapters,
		log:      &l,
	}
}

func (w *OrphanReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting orphan reconciler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping orphan reconciler")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *OrphanReconciler) sweep(ctx context.Context) {
	orphans, err := w.repo.ListPending(ctx, 100)
	if err != nil {
		w.log.Error().Err(err).Msg("list pending orphans")
		return
	}
	for _, o := range orphans {
		w.reconcile(ctx, o)
	}
}

func (w *OrphanReconciler) reconcile(ctx context.Context, o *repository.OrphanAudience) {
	log := w.log.With().
		Str("platform", string(o.Platform)).
		Str("remote_audience_id", o.RemoteAudienceID).
		Logger()

	pa, ok := w.adapters[o.Platform]
	if !ok {
		log.Warn().Msg("no adapter for orphan's platform")
		return
	}
	cfg := model.ChannelConfig{Platform: o.Platform, AccountID: o.AccountID}

	err := pa.DeleteAudience(ctx, cfg, o.RemoteAudienceID)
	switch {
	case err == nil:
		if err := w.repo.MarkResolved(ctx, o.ID, repository.OrphanDeleted); err != nil {
			log.Error().Err(err).Msg("mark orphan deleted")
			return
		}
		metrics.IncOrphanReconciled(string(o.Platform), "deleted")
		log.Info().Msg("orphaned remote audience deleted")
	case errors.Is(err, domain.ErrUnsupported):
		if err := w.repo.MarkResolved(ctx, o.ID, repository.OrphanManual); err != nil {
			log.Error().Err(err).Msg("mark orphan manual")
			return
		}
		metrics.IncOrphanReconciled(string(o.Platform), "manual")
		log.Warn().Msg("platform cannot delete audiences via API; operator cleanup required")
	default:
		metrics.IncOrphanReconciled(string(o.Platform), "error")
		log.Error().Err(err).Msg("orphan deletion failed; will retry next sweep")
	}
}
