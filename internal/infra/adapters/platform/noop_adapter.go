package platform

import (
	"context"
	"fmt"

	"audience-activation/internal/domain/model"
	"audience-activation/internal/domain/ports/adapter"
)

var _ adapter.AudiencePlatformAdapter = (*NoopAdapter)(nil)

// NoopAdapter is an inert stand-in used in dev mode when a platform has no
// credentials configured. It accepts everything and reports a full match.
type NoopAdapter struct {
	platform model.Platform
	counter  int
}

func NewNoopAdapter(p model.Platform) *NoopAdapter {
	return &NoopAdapter{platform: p}
}

func (n *NoopAdapter) Platform() model.Platform { return n.platform }

func (n *NoopAdapter) PreflightCheck(cfg model.ChannelConfig, ids []*model.UserIdentifier) error {
	return nil
}

func (n *NoopAdapter) CreateAudience(ctx context.Context, cfg model.ChannelConfig, ids []*model.UserIdentifier) (string, error) {
	n.counter++
	return fmt.Sprintf("noop-%s-%d", n.platform, n.counter), nil
}

func (n *NoopAdapter) UploadIdentifiers(ctx context.Context, cfg model.ChannelConfig, remoteID string, ids []*model.UserIdentifier) (*adapter.UploadResult, error) {
	total := int64(len(ids))
	return &adapter.UploadResult{Received: total, MatchedCount: total, MatchRate: 100}, nil
}

func (n *NoopAdapter) GetStatus(ctx context.Context, cfg model.ChannelConfig, remoteID string) (*model.ActivationChannelStatus, error) {
	return &model.ActivationChannelStatus{
		Platform:         n.platform,
		AccountID:        cfg.AccountID,
		RemoteAudienceID: remoteID,
		Status:           model.ChannelStatusActive,
	}, nil
}

func (n *NoopAdapter) UpdateAudience(ctx context.Context, cfg model.ChannelConfig, remoteID string, add, remove []*model.UserIdentifier) (*adapter.UploadResult, error) {
	return &adapter.UploadResult{Received: int64(len(add) + len(remove))}, nil
}

func (n *NoopAdapter) DeleteAudience(ctx context.Context, cfg model.ChannelConfig, remoteID string) error {
	return nil
}
