package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"audience-activation/internal/config"
	"audience-activation/internal/domain"
	"audience-activation/internal/domain/model"
	"audience-activation/internal/infra/api"
	"audience-activation/internal/infra/logging"
	"audience-activation/internal/usecase"
)

// Server exposes the activation engine to the orchestration layer. The
// request/response shapes are a pass-through of the engine's contract; no
// platform wire formats leak here.
type Server struct {
	cfg    *config.Config
	uc     *usecase.ActivationUseCase
	log    *zerolog.Logger
	server *http.Server
}

func NewServer(cfg *config.Config, uc *usecase.ActivationUseCase, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "http").Logger()
	return &Server{cfg: cfg, uc: uc, log: &l}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	common := []api.Middleware{
		api.TraceID(s.log),
		api.RequestLog(s.log),
		api.Recover(s.log),
		api.Timeout(s.cfg.Server.Timeout),
	}
	auth := append(common, api.BearerAuth(s.cfg.Server.JWTSecret))

	r.Method(http.MethodPost, "/activation", api.Chain(http.HandlerFunc(s.handleActivate), auth...))
	r.Method(http.MethodGet, "/activation/{id}", api.Chain(http.HandlerFunc(s.handleGet), auth...))
	r.Method(http.MethodGet, "/activation/{id}/channels/{platform}", api.Chain(http.HandlerFunc(s.handleChannel), auth...))
	r.Method(http.MethodGet, "/audiences/{audienceId}/activations", api.Chain(http.HandlerFunc(s.handleHistory), auth...))

	return r
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler: s.Router(),
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type identifierDTO struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type channelDTO struct {
	Platform          string `json:"platform"`
	AccountID         string `json:"accountId"`
	AudienceName      string `json:"audienceName"`
	MembershipDays    int    `json:"membershipDays,omitempty"`
	SpecialAdCategory bool   `json:"specialAdCategory,omitempty"`
}

type activationRequestDTO struct {
	AudienceID  string          `json:"audienceId"`
	Channels    []channelDTO    `json:"channels"`
	Identifiers []identifierDTO `json:"identifiers"`
	// RequiresApproval is enforced by the upstream governance workflow;
	// the engine carries it through untouched.
	RequiresApproval bool `json:"requiresApproval"`
	RequestedBy      struct {
		UserID   string `json:"userId"`
		TenantID string `json:"tenantId"`
		Role     string `json:"role"`
	} `json:"requestedBy"`
}

type channelStatusDTO struct {
	Platform         string     `json:"platform"`
	AccountID        string     `json:"accountId"`
	RemoteAudienceID string     `json:"remoteAudienceId,omitempty"`
	Status           string     `json:"status"`
	MatchedCount     int64      `json:"matchedCount"`
	MatchRate        float64    `json:"matchRate"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
}

type activationDTO struct {
	ID              string             `json:"id"`
	AudienceID      string             `json:"audienceId"`
	OverallStatus   string             `json:"overallStatus"`
	IdentifierCount int                `json:"identifierCount"`
	IdentifierTypes []string           `json:"identifierTypes"`
	Channels        []channelStatusDTO `json:"channels"`
	CreatedAt       time.Time          `json:"createdAt"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var dto activationRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	req := &usecase.ActivationRequest{
		AudienceID:  dto.AudienceID,
		TenantID:    dto.RequestedBy.TenantID,
		RequestedBy: dto.RequestedBy.UserID,
	}
	// Authenticated claims win over the request body when present.
	if c, ok := api.CallerFrom(r.Context()); ok {
		if c.TenantID != "" {
			req.TenantID = c.TenantID
		}
		if c.UserID != "" {
			req.RequestedBy = c.UserID
		}
	}
	for _, ch := range dto.Channels {
		req.Channels = append(req.Channels, model.ChannelConfig{
			Platform:          model.Platform(ch.Platform),
			AccountID:         ch.AccountID,
			AudienceName:      ch.AudienceName,
			MembershipDays:    ch.MembershipDays,
			SpecialAdCategory: ch.SpecialAdCategory,
		})
	}
	for i, id := range dto.Identifiers {
		uid, err := model.NewUserIdentifier(model.IdentifierType(id.Type), id.Value)
		if err != nil {
			logging.With(r.Context(), s.log).Debug().
				Int("index", i).
				Str("type", id.Type).
				Str("value", logging.Redact(id.Value, s.cfg.Runtime.Dev)).
				Msg("rejected identifier")
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("identifier %d: unknown type or empty value", i))
			return
		}
		req.Identifiers = append(req.Identifiers, uid)
	}

	act, err := s.uc.Activate(r.Context(), req)
	if err != nil {
		log := logging.With(r.Context(), s.log)
		switch {
		case errors.Is(err, domain.ErrInvalidIdentifier), errors.Is(err, domain.ErrInvalidArgument):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Error().Err(err).Msg("activation failed")
			s.writeError(w, http.StatusInternalServerError, "activation failed")
		}
		return
	}
	s.writeJSON(w, http.StatusOK, toActivationDTO(act))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	act, err := s.uc.GetStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "activation not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, toActivationDTO(act))
}

// handleChannel serves one channel's status, refreshing matched counts from
// the platform when the remote audience exists. A failed live lookup falls
// back to the stored snapshot.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p := model.Platform(chi.URLParam(r, "platform"))

	act, err := s.uc.GetStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "activation not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	ch := act.Channel(p)
	if ch == nil {
		s.writeError(w, http.StatusNotFound, "no channel for platform")
		return
	}
	if ch.RemoteAudienceID != "" {
		cfg := model.ChannelConfig{Platform: p, AccountID: ch.AccountID}
		if live, err := s.uc.ChannelStatus(r.Context(), cfg, ch.RemoteAudienceID); err == nil {
			if live.MatchedCount > 0 {
				ch.MatchedCount = live.MatchedCount
			}
			if live.MatchRate > 0 {
				ch.MatchRate = live.MatchRate
			}
		} else {
			logging.With(r.Context(), s.log).Warn().Err(err).
				Str("platform", string(p)).Msg("live channel lookup failed; serving stored snapshot")
		}
	}
	s.writeJSON(w, http.StatusOK, toChannelDTO(ch))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	audienceID := chi.URLParam(r, "audienceId")
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	acts, err := s.uc.History(r.Context(), audienceID, limit)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	out := make([]activationDTO, 0, len(acts))
	for _, a := range acts {
		out = append(out, toActivationDTO(a))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func toChannelDTO(ch *model.ActivationChannelStatus) channelStatusDTO {
	return channelStatusDTO{
		Platform:         string(ch.Platform),
		AccountID:        ch.AccountID,
		RemoteAudienceID: ch.RemoteAudienceID,
		Status:           string(ch.Status),
		MatchedCount:     ch.MatchedCount,
		MatchRate:        ch.MatchRate,
		ErrorMessage:     ch.ErrorMessage,
		StartedAt:        ch.StartedAt,
		FinishedAt:       ch.FinishedAt,
	}
}

func toActivationDTO(a *model.Activation) activationDTO {
	dto := activationDTO{
		ID:              a.ID,
		AudienceID:      a.AudienceID,
		OverallStatus:   string(a.OverallStatus()),
		IdentifierCount: a.IdentifierCount,
		CreatedAt:       a.CreatedAt,
	}
	for _, t := range a.IdentifierTypes {
		dto.IdentifierTypes = append(dto.IdentifierTypes, string(t))
	}
	for _, ch := range a.Channels {
		dto.Channels = append(dto.Channels, toChannelDTO(ch))
	}
	return dto
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
