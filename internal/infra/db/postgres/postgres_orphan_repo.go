package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"audience-activation/internal/domain"
	"audience-activation/internal/domain/model"
	"audience-activation/internal/domain/ports/repository"
)

var _ repository.OrphanRepository = (*orphanRepo)(nil)

type orphanRepo struct {
	pool *pgxpool.Pool
}

func NewOrphanRepo(pool *pgxpool.Pool) *orphanRepo {
	return &orphanRepo{pool: pool}
}

func (r *orphanRepo) Save(ctx context.Context, o *repository.OrphanAudience) error {
	const q = `
INSERT INTO orphan_audiences (
  id, activation_id, platform, account_id, remote_audience_id, status, created_at, resolved_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET status=$6, resolved_at=$8;`

	_, err := r.pool.Exec(ctx, q, o.ID, o.ActivationID, string(o.Platform), o.AccountID,
		o.RemoteAudienceID, string(o.Status), o.CreatedAt, o.ResolvedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *orphanRepo) ListPending(ctx context.Context, limit int) ([]*repository.OrphanAudience, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, activation_id, platform, account_id, remote_audience_id, status, created_at, resolved_at
  FROM orphan_audiences
 WHERE status='pending'
 ORDER BY created_at
 LIMIT $1;`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*repository.OrphanAudience
	for rows.Next() {
		var o repository.OrphanAudience
		var platform, status string
		if err := rows.Scan(&o.ID, &o.ActivationID, &platform, &o.AccountID,
			&o.RemoteAudienceID, &status, &o.CreatedAt, &o.ResolvedAt); err != nil {
			return nil, domain.ErrOperationFailed
		}
		o.Platform = model.Platform(platform)
		o.Status = repository.OrphanStatus(status)
		out = append(out, &o)
	}
	return out, nil
}

func (r *orphanRepo) MarkResolved(ctx context.Context, id string, status repository.OrphanStatus) error {
	const q = `UPDATE orphan_audiences SET status=$2, resolved_at=$3 WHERE id=$1;`
	now := time.Now()
	tag, err := r.pool.Exec(ctx, q, id, string(status), now)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
