package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"audience-activation/internal/domain"
	"audience-activation/internal/domain/model"
	"audience-activation/internal/domain/ports/repository"
)

// Ensure activationRepo implements repository.ActivationRepository
var _ repository.ActivationRepository = (*activationRepo)(nil)

type activationRepo struct {
	pool *pgxpool.Pool
}

func NewActivationRepo(pool *pgxpool.Pool) *activationRepo {
	return &activationRepo{pool: pool}
}

func (r *activationRepo) Save(ctx context.Context, a *model.Activation) error {
	types := make([]string, 0, len(a.IdentifierTypes))
	for _, t := range a.IdentifierTypes {
		types = append(types, string(t))
	}
	const q = `
INSERT INTO activations (
  id, audience_id, tenant_id, requested_by, identifier_count, identifier_types, overall_status, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  identifier_count=$5, identifier_types=$6, overall_status=$7;`

	_, err := r.pool.Exec(ctx, q, a.ID, a.AudienceID, a.TenantID, a.RequestedBy,
		a.IdentifierCount, types, string(a.OverallStatus()), a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return domain.ErrOperationFailed
	}
	for _, ch := range a.Channels {
		if err := r.SaveChannel(ctx, a.ID, ch); err != nil {
			return err
		}
	}
	return nil
}

func (r *activationRepo) SaveChannel(ctx context.Context, activationID string, ch *model.ActivationChannelStatus) error {
	const q = `
INSERT INTO activation_channels (
  activation_id, platform, account_id, remote_audience_id, status,
  matched_count, match_rate, error_message, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (activation_id, platform) DO UPDATE SET
  remote_audience_id=$4, status=$5, matched_count=$6, match_rate=$7, error_message=$8, finished_at=$10;`

	_, err := r.pool.Exec(ctx, q, activationID, string(ch.Platform), ch.AccountID,
		ch.RemoteAudienceID, string(ch.Status), ch.MatchedCount, ch.MatchRate,
		ch.ErrorMessage, ch.StartedAt, ch.FinishedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *activationRepo) FindByID(ctx context.Context, id string) (*model.Activation, error) {
	const q = `
SELECT id, audience_id, tenant_id, requested_by, identifier_count, identifier_types, created_at
  FROM activations
 WHERE id=$1;`
	row := r.pool.QueryRow(ctx, q, id)

	var a model.Activation
	var types []string
	if err := row.Scan(&a.ID, &a.AudienceID, &a.TenantID, &a.RequestedBy,
		&a.IdentifierCount, &types, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrOperationFailed
	}
	for _, t := range types {
		a.IdentifierTypes = append(a.IdentifierTypes, model.IdentifierType(t))
	}

	channels, err := r.loadChannels(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.Channels = channels
	return &a, nil
}

func (r *activationRepo) ListByAudience(ctx context.Context, audienceID string, limit int) ([]*model.Activation, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id
  FROM activations
 WHERE audience_id=$1
 ORDER BY created_at DESC
 LIMIT $2;`
	rows, err := r.pool.Query(ctx, q, audienceID, limit)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrOperationFailed
		}
		ids = append(ids, id)
	}
	out := make([]*model.Activation, 0, len(ids))
	for _, id := range ids {
		a, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *activationRepo) loadChannels(ctx context.Context, activationID string) ([]*model.ActivationChannelStatus, error) {
	const q = `
SELECT platform, account_id, remote_audience_id, status, matched_count, match_rate, error_message, started_at, finished_at
  FROM activation_channels
 WHERE activation_id=$1
 ORDER BY platform;`
	rows, err := r.pool.Query(ctx, q, activationID)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.ActivationChannelStatus
	for rows.Next() {
		var ch model.ActivationChannelStatus
		var platform, status string
		if err := rows.Scan(&platform, &ch.AccountID, &ch.RemoteAudienceID, &status,
			&ch.MatchedCount, &ch.MatchRate, &ch.ErrorMessage, &ch.StartedAt, &ch.FinishedAt); err != nil {
			return nil, domain.ErrOperationFailed
		}
		ch.Platform = model.Platform(platform)
		ch.Status = model.ChannelStatus(status)
		out = append(out, &ch)
	}
	return out, nil
}
