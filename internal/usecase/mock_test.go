//go:build !integration

package usecase_test

import (
	"context"
	"sync"

	"audience-activation/internal/domain"
	"audience-activation/internal/domain/model"
	"audience-activation/internal/domain/ports/adapter"
	"audience-activation/internal/domain/ports/repository"
)

// ---- Mock AudiencePlatformAdapter ----

type MockPlatformAdapter struct {
	mu sync.Mutex

	platform model.Platform

	PreflightFunc func(cfg model.ChannelConfig, ids []*model.UserIdentifier) error
	CreateFunc    func(ctx context.Context, cfg model.ChannelConfig, ids []*model.UserIdentifier) (string, error)
	UploadFunc    func(ctx context.Context, cfg model.ChannelConfig, remoteID string, ids []*model.UserIdentifier) (*adapter.UploadResult, error)

	PreflightCalls int
	CreateCalls    int
	UploadCalls    int
}

var _ adapter.AudiencePlatformAdapter = (*MockPlatformAdapter)(nil)

func NewMockPlatformAdapter(p model.Platform) *MockPlatformAdapter {
	return &MockPlatformAdapter{platform: p}
}

func (m *MockPlatformAdapter) Platform() model.Platform { return m.platform }

func (m *MockPlatformAdapter) PreflightCheck(cfg model.ChannelConfig, ids []*model.UserIdentifier) error {
	m.mu.Lock()
	m.PreflightCalls++
	m.mu.Unlock()
	if m.PreflightFunc != nil {
		return m.PreflightFunc(cfg, ids)
	}
	return nil
}

func (m *MockPlatformAdapter) CreateAudience(ctx context.Context, cfg model.ChannelConfig, ids []*model.UserIdentifier) (string, error) {
	m.mu.Lock()
	m.CreateCalls++
	m.mu.Unlock()
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, cfg, ids)
	}
	return "remote-" + string(m.platform), nil
}

func (m *MockPlatformAdapter) UploadIdentifiers(ctx context.Context, cfg model.ChannelConfig, remoteID string, ids []*model.UserIdentifier) (*adapter.UploadResult, error) {
	m.mu.Lock()
	m.UploadCalls++
	m.mu.Unlock()
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, cfg, remoteID, ids)
	}
	total := int64(len(ids))
	return &adapter.UploadResult{Received: total, MatchedCount: total, MatchRate: 100}, nil
}

func (m *MockPlatformAdapter) GetStatus(ctx context.Context, cfg model.ChannelConfig, remoteID string) (*model.ActivationChannelStatus, error) {
	return &model.ActivationChannelStatus{
		Platform:         m.platform,
		AccountID:        cfg.AccountID,
		RemoteAudienceID: remoteID,
		Status:           model.ChannelStatusActive,
	}, nil
}

func (m *MockPlatformAdapter) UpdateAudience(ctx context.Context, cfg model.ChannelConfig, remoteID string, add, remove []*model.UserIdentifier) (*adapter.UploadResult, error) {
	return &adapter.UploadResult{Received: int64(len(add) + len(remove))}, nil
}

func (m *MockPlatformAdapter) DeleteAudience(ctx context.Context, cfg model.ChannelConfig, remoteID string) error {
	return nil
}

// ---- Mock ActivationRepository ----

type MockActivationRepo struct {
	mu          sync.Mutex
	Activations map[string]*model.Activation
	SaveCalls   int
}

var _ repository.ActivationRepository = (*MockActivationRepo)(nil)

func NewMockActivationRepo() *MockActivationRepo {
	return &MockActivationRepo{Activations: map[string]*model.Activation{}}
}

func (r *MockActivationRepo) Save(ctx context.Context, a *model.Activation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SaveCalls++
	r.Activations[a.ID] = a
	return nil
}

func (r *MockActivationRepo) SaveChannel(ctx context.Context, activationID string, ch *model.ActivationChannelStatus) error {
	return nil
}

func (r *MockActivationRepo) FindByID(ctx context.Context, id string) (*model.Activation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.Activations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

func (r *MockActivationRepo) ListByAudience(ctx context.Context, audienceID string, limit int) ([]*model.Activation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Activation
	for _, a := range r.Activations {
		if a.AudienceID == audienceID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ---- Mock OrphanRepository ----

type MockOrphanRepo struct {
	mu      sync.Mutex
	Orphans []*repository.OrphanAudience
}

var _ repository.OrphanRepository = (*MockOrphanRepo)(nil)

func (r *MockOrphanRepo) Save(ctx context.Context, o *repository.OrphanAudience) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Orphans = append(r.Orphans, o)
	return nil
}

func (r *MockOrphanRepo) ListPending(ctx context.Context, limit int) ([]*repository.OrphanAudience, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*repository.OrphanAudience
	for _, o := range r.Orphans {
		if o.Status == repository.OrphanPending {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *MockOrphanRepo) MarkResolved(ctx context.Context, id string, status repository.OrphanStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.Orphans {
		if o.ID == id {
			o.Status = status
			return nil
		}
	}
	return domain.ErrNotFound
}
