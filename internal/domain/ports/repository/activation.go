package repository

import (
	"context"
	"time"

	"audience-activation/internal/domain/model"
)

// ActivationRepository persists activation aggregates and their per-channel
// progress.
type ActivationRepository interface {
	Save(ctx context.Context, act *model.Activation) error
	SaveChannel(ctx context.Context, activationID string, ch *model.ActivationChannelStatus) error
	FindByID(ctx context.Context, id string) (*model.Activation, error)
	ListByAudience(ctx context.Context, audienceID string, limit int) ([]*model.Activation, error)
}

// OrphanStatus tracks reconciliation of remote audiences left behind by
// failed runs.
type OrphanStatus string

const (
	OrphanPending OrphanStatus = "pending"
	OrphanDeleted OrphanStatus = "deleted"
	// OrphanManual marks audiences the platform cannot delete via API;
	// an operator has to clean these up in the platform UI.
	OrphanManual OrphanStatus = "manual"
)

type OrphanAudience struct {
	ID               string
	ActivationID     string
	Platform         model.Platform
	AccountID        string
	RemoteAudienceID string
	Status           OrphanStatus
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}

// OrphanRepository records remote audiences created by lifecycles that later
// failed, so the reconciler can garbage-collect them.
type OrphanRepository interface {
	Save(ctx context.Context, o *OrphanAudience) error
	ListPending(ctx context.Context, limit int) ([]*OrphanAudience, error)
	MarkResolved(ctx context.Context, id string, status OrphanStatus) error
}
