package model

import (
	"time"

	"audience-activation/internal/domain"
)

type Platform string

const (
	PlatformGoogleAds Platform = "google_ads"
	PlatformMeta      Platform = "meta"
	PlatformTikTok    Platform = "tiktok"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformGoogleAds, PlatformMeta, PlatformTikTok:
		return true
	}
	return false
}

type ChannelStatus string

const (
	ChannelStatusPending    ChannelStatus = "pending"
	ChannelStatusValidating ChannelStatus = "validating"
	ChannelStatusHashing    ChannelStatus = "hashing"
	ChannelStatusPreflight  ChannelStatus = "preflight"
	ChannelStatusCreating   ChannelStatus = "creating_remote_audience"
	ChannelStatusUploading  ChannelStatus = "uploading"
	ChannelStatusActive     ChannelStatus = "active"
	ChannelStatusFailed     ChannelStatus = "failed"
)

// channelRank orders the lifecycle; terminal states share the highest rank so a
// transition between them is always rejected.
var channelRank = map[ChannelStatus]int{
	ChannelStatusPending:    0,
	ChannelStatusValidating: 1,
	ChannelStatusHashing:    2,
	ChannelStatusPreflight:  3,
	ChannelStatusCreating:   4,
	ChannelStatusUploading:  5,
	ChannelStatusActive:     6,
	ChannelStatusFailed:     6,
}

func (s ChannelStatus) Terminal() bool {
	return s == ChannelStatusActive || s == ChannelStatusFailed
}

type OverallStatus string

const (
	OverallStatusPending OverallStatus = "pending"
	OverallStatusActive  OverallStatus = "active"
	OverallStatusPartial OverallStatus = "partial"
	OverallStatusFailed  OverallStatus = "failed"
)

// ChannelConfig carries one platform's activation parameters for one audience.
type ChannelConfig struct {
	Platform          Platform
	AccountID         string
	AudienceName      string
	MembershipDays    int  // optional; 0 means platform default
	SpecialAdCategory bool // Meta: audience targets housing/employment/credit ads
}

func (c ChannelConfig) Validate() error {
	if !c.Platform.Valid() {
		return domain.ErrInvalidArgument
	}
	if c.AccountID == "" || c.AudienceName == "" {
		return domain.ErrInvalidArgument
	}
	if c.MembershipDays < 0 {
		return domain.ErrInvalidArgument
	}
	return nil
}

// ActivationChannelStatus tracks one platform's progress for one audience.
// It is owned by exactly one lifecycle run; transitions only move forward.
type ActivationChannelStatus struct {
	Platform         Platform
	AccountID        string
	RemoteAudienceID string
	Status           ChannelStatus
	MatchedCount     int64
	MatchRate        float64
	ErrorMessage     string
	StartedAt        time.Time
	FinishedAt       *time.Time
}

func NewActivationChannelStatus(cfg ChannelConfig) *ActivationChannelStatus {
	return &ActivationChannelStatus{
		Platform:  cfg.Platform,
		AccountID: cfg.AccountID,
		Status:    ChannelStatusPending,
		StartedAt: time.Now(),
	}
}

// Advance moves the channel to the next state. Backward moves and transitions
// out of a terminal state return ErrInvalidTransition.
func (c *ActivationChannelStatus) Advance(next ChannelStatus) error {
	cur, ok := channelRank[c.Status]
	nxt, nok := channelRank[next]
	if !ok || !nok {
		return domain.ErrInvalidTransition
	}
	if c.Status.Terminal() || nxt <= cur {
		return domain.ErrInvalidTransition
	}
	c.Status = next
	if next.Terminal() {
		now := time.Now()
		c.FinishedAt = &now
	}
	return nil
}

// Fail is the one transition allowed from any non-terminal state.
func (c *ActivationChannelStatus) Fail(err error) {
	if c.Status.Terminal() {
		return
	}
	c.Status = ChannelStatusFailed
	if err != nil {
		c.ErrorMessage = err.Error()
	}
	now := time.Now()
	c.FinishedAt = &now
}

func (c *ActivationChannelStatus) Complete(matched int64, rate float64) error {
	if err := c.Advance(ChannelStatusActive); err != nil {
		return err
	}
	c.MatchedCount = matched
	c.MatchRate = rate
	return nil
}

// Activation aggregates one audience's activation across all requested
// platforms. Immutable once every channel is terminal.
type Activation struct {
	ID              string
	AudienceID      string
	TenantID        string
	RequestedBy     string
	IdentifierCount int
	IdentifierTypes []IdentifierType
	Channels        []*ActivationChannelStatus
	CreatedAt       time.Time
}

func NewActivation(id, audienceID, tenantID, requestedBy string, configs []ChannelConfig) (*Activation, error) {
	if id == "" || audienceID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if len(configs) == 0 {
		return nil, domain.ErrInvalidArgument
	}
	act := &Activation{
		ID:          id,
		AudienceID:  audienceID,
		TenantID:    tenantID,
		RequestedBy: requestedBy,
		CreatedAt:   time.Now(),
	}
	seen := map[Platform]bool{}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if seen[cfg.Platform] {
			return nil, domain.ErrAlreadyExists
		}
		seen[cfg.Platform] = true
		act.Channels = append(act.Channels, NewActivationChannelStatus(cfg))
	}
	return act, nil
}

func (a *Activation) Channel(p Platform) *ActivationChannelStatus {
	for _, ch := range a.Channels {
		if ch.Platform == p {
			return ch
		}
	}
	return nil
}

// OverallStatus folds channel outcomes: active when all channels activated,
// failed when none did, partial otherwise; pending while any channel is still
// in flight. The fold is order-independent.
func (a *Activation) OverallStatus() OverallStatus {
	active, failed := 0, 0
	for _, ch := range a.Channels {
		switch ch.Status {
		case ChannelStatusActive:
			active++
		case ChannelStatusFailed:
			failed++
		default:
			return OverallStatusPending
		}
	}
	switch {
	case failed == 0:
		return OverallStatusActive
	case active == 0:
		return OverallStatusFailed
	default:
		return OverallStatusPartial
	}
}
