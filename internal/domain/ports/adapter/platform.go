package adapter

import (
	"context"

	"audience-activation/internal/domain/model"
)

// UploadResult summarizes one platform's ingestion of a hashed batch set.
type UploadResult struct {
	Received     int64
	Invalid      int64
	MatchedCount int64
	// MatchRate is a percentage. Google Ads reports it server-side as a range
	// (the adapter maps it to the range midpoint); Meta and TikTok derive it
	// locally from received/invalid counts. Rates are not comparable across
	// platforms.
	MatchRate float64
}

// AudiencePlatformAdapter is the port every ad platform integration must
// satisfy. Preflight must issue no network calls; every other method may.
type AudiencePlatformAdapter interface {
	Platform() model.Platform

	// PreflightCheck enforces the platform's structural constraints
	// (minimum list size, type homogeneity, account id shape, membership
	// duration caps) purely locally.
	PreflightCheck(cfg model.ChannelConfig, ids []*model.UserIdentifier) error

	// CreateAudience provisions the remote audience container and returns
	// its platform-assigned id.
	CreateAudience(ctx context.Context, cfg model.ChannelConfig, ids []*model.UserIdentifier) (string, error)

	// UploadIdentifiers transmits hashed identifiers in platform-sized
	// batches and resolves the final outcome, polling when the platform's
	// ingestion is asynchronous.
	UploadIdentifiers(ctx context.Context, cfg model.ChannelConfig, remoteID string, ids []*model.UserIdentifier) (*UploadResult, error)

	// GetStatus snapshots the remote audience's state.
	GetStatus(ctx context.Context, cfg model.ChannelConfig, remoteID string) (*model.ActivationChannelStatus, error)

	// UpdateAudience adds or removes identifiers after creation.
	UpdateAudience(ctx context.Context, cfg model.ChannelConfig, remoteID string, add, remove []*model.UserIdentifier) (*UploadResult, error)

	// DeleteAudience removes the remote audience. Platforms without API
	// deletion return domain.ErrUnsupported, never a silent success.
	DeleteAudience(ctx context.Context, cfg model.ChannelConfig, remoteID string) error
}
