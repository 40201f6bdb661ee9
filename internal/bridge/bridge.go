// Package bridge exposes the engine's views and intents to a local UI shell over loopback HTTP.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/park285/roomlink/internal/domain"
	"github.com/park285/roomlink/internal/draft"
	"github.com/park285/roomlink/internal/engine"
	"github.com/park285/roomlink/internal/gateway"
	"github.com/park285/roomlink/internal/history"
	"github.com/park285/roomlink/internal/voice"
)

// Engine is the part of *engine.Engine the bridge drives.
type Engine interface {
	Snapshot(ctx context.Context) (engine.View, error)
	Messages(ctx context.Context) ([]domain.Message, error)
	VoiceMembers(ctx context.Context, ch domain.VoiceChannel) ([]domain.VoiceMember, error)

	JoinRoom(ctx context.Context, roomID, password string) error
	LeaveRoom(ctx context.Context) error
	JoinAsPlayer(ctx context.Context, teamID int) error
	JoinAsSpectator(ctx context.Context) error
	KickPlayer(ctx context.Context, targetUserID string) error
	SendMessage(ctx context.Context, content string, channel domain.MessageChannel) error
	CaptainPick(ctx context.Context, playerID string) error
	CaptainPickSide(ctx context.Context, side domain.Side) error
	SetReady(ctx context.Context, ready bool) error
	RequestSnapshot(ctx context.Context) error
	JoinVoice(ctx context.Context, ch domain.VoiceChannel) error
	LeaveVoice(ctx context.Context) error
	SetVoiceMute(ctx context.Context, muted bool) error
	SetOutputVolume(ctx context.Context, level float64) error
}

// History lists finished matches.
type History interface {
	Recent(ctx context.Context, limit int) ([]history.Match, error)
}

// IntentRequest is the union of every intent body field.
type IntentRequest struct {
	RoomID   string                `json:"roomId,omitempty"`
	Password string                `json:"password,omitempty"`
	TeamID   int                   `json:"teamId,omitempty"`
	UserID   string                `json:"userId,omitempty"`
	Content  string                `json:"content,omitempty"`
	Channel  domain.MessageChannel `json:"channel,omitempty"`
	Side     domain.Side           `json:"side,omitempty"`
	Ready    bool                  `json:"ready,omitempty"`
	Voice    domain.VoiceChannel   `json:"voiceChannel,omitempty"`
	Muted    bool                  `json:"muted,omitempty"`
	Volume   float64               `json:"volume,omitempty"`
}

type intentFunc func(ctx context.Context, e Engine, req IntentRequest) error

var intents = map[string]intentFunc{
	"joinRoom": func(ctx context.Context, e Engine, req IntentRequest) error {
		return e.JoinRoom(ctx, req.RoomID, req.Password)
	},
	"leaveRoom": func(ctx context.Context, e Engine, _ IntentRequest) error { return e.LeaveRoom(ctx) },
	"joinAsPlayer": func(ctx context.Context, e Engine, req IntentRequest) error {
		return e.JoinAsPlayer(ctx, req.TeamID)
	},
	"joinAsSpectator": func(ctx context.Context, e Engine, _ IntentRequest) error { return e.JoinAsSpectator(ctx) },
	"kickPlayer": func(ctx context.Context, e Engine, req IntentRequest) error {
		return e.KickPlayer(ctx, req.UserID)
	},
	"sendMessage": func(ctx context.Context, e Engine, req IntentRequest) error {
		ch := req.Channel
		if ch == "" {
			ch = domain.MessagePublic
		}
		return e.SendMessage(ctx, req.Content, ch)
	},
	"captainPick": func(ctx context.Context, e Engine, req IntentRequest) error {
		return e.CaptainPick(ctx, req.UserID)
	},
	"captainPickSide": func(ctx context.Context, e Engine, req IntentRequest) error {
		return e.CaptainPickSide(ctx, req.Side)
	},
	"setReady": func(ctx context.Context, e Engine, req IntentRequest) error {
		return e.SetReady(ctx, req.Ready)
	},
	"requestSnapshot": func(ctx context.Context, e Engine, _ IntentRequest) error { return e.RequestSnapshot(ctx) },
	"joinVoice": func(ctx context.Context, e Engine, req IntentRequest) error {
		return e.JoinVoice(ctx, req.Voice)
	},
	"leaveVoice": func(ctx context.Context, e Engine, _ IntentRequest) error { return e.LeaveVoice(ctx) },
	"setVoiceMute": func(ctx context.Context, e Engine, req IntentRequest) error {
		return e.SetVoiceMute(ctx, req.Muted)
	},
	"setOutputVolume": func(ctx context.Context, e Engine, req IntentRequest) error {
		return e.SetOutputVolume(ctx, req.Volume)
	},
}

type Server struct {
	eng     Engine
	hist    History
	logger  *zap.Logger
	timeout time.Duration
	srv     *http.Server
}

type Option func(*Server)

func WithHistory(h History) Option { return func(s *Server) { s.hist = h } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIntentTimeout bounds how long an intent call may wait for its ack.
func WithIntentTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(eng Engine, opts ...Option) *Server {
	s := &Server{eng: eng, logger: zap.NewNop(), timeout: 15 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.state)
		r.Get("/messages", s.messages)
		r.Get("/voice/{channel}", s.voiceMembers)
		r.Get("/history", s.recent)
		r.Post("/intents/{name}", s.intent)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{Handler: s.Routes(), ReadHeaderTimeout: 5 * time.Second}
	s.logger.Info("bridge_listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	v, err := s.eng.Snapshot(r.Context())
	if err != nil {
		s.fail(w, "state", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) messages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.eng.Messages(r.Context())
	if err != nil {
		s.fail(w, "messages", err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) voiceMembers(w http.ResponseWriter, r *http.Request) {
	ch := domain.VoiceChannel(chi.URLParam(r, "channel"))
	if !ch.Valid() {
		writeError(w, http.StatusNotFound, "unknown voice channel", 0)
		return
	}
	members, err := s.eng.VoiceMembers(r.Context(), ch)
	if err != nil {
		s.fail(w, "voice", err)
		return
	}
	if members == nil {
		members = []domain.VoiceMember{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": ch, "members": members})
}

func (s *Server) recent(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeError(w, http.StatusNotFound, "history is disabled", 0)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	matches, err := s.hist.Recent(r.Context(), limit)
	if err != nil {
		s.fail(w, "history", err)
		return
	}
	if matches == nil {
		matches = []history.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *Server) intent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	fn, ok := intents[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown intent "+name, 0)
		return
	}
	var req IntentRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body", 0)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	if err := fn(ctx, s.eng, req); err != nil {
		s.fail(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"intent": name, "success": true})
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("bridge_request_failed", zap.String("op", op), zap.Error(err))
	} else {
		s.logger.Debug("bridge_request_rejected", zap.String("op", op), zap.Error(err))
	}
	writeError(w, status, err.Error(), code)
}

func statusFor(err error) (int, domain.ErrorCode) {
	var rej *gateway.RejectedError
	switch {
	case errors.As(err, &rej):
		return http.StatusConflict, rej.Code
	case errors.Is(err, gateway.ErrNotConnected), errors.Is(err, gateway.ErrRequestAborted), errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable, 0
	case errors.Is(err, gateway.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, 0
	case errors.Is(err, engine.ErrNotOwner), errors.Is(err, draft.ErrNotCaptain),
		errors.Is(err, voice.ErrChannelForbidden):
		return http.StatusForbidden, 0
	case errors.Is(err, engine.ErrNotInRoom), errors.Is(err, engine.ErrAlreadyInRoom),
		errors.Is(err, engine.ErrKickSelf), errors.Is(err, engine.ErrUnknownMember),
		errors.Is(err, engine.ErrNotPlayer), errors.Is(err, engine.ErrNoTeam),
		errors.Is(err, engine.ErrEmptyMessage), errors.Is(err, engine.ErrBadTeam),
		errors.Is(err, draft.ErrNotPicking), errors.Is(err, draft.ErrNotSidePicking),
		errors.Is(err, draft.ErrWrongTurn), errors.Is(err, draft.ErrNotEligible),
		errors.Is(err, draft.ErrInvalidSide), errors.Is(err, draft.ErrSideTaken),
		errors.Is(err, draft.ErrDraftComplete),
		errors.Is(err, voice.ErrNotInRoom), errors.Is(err, voice.ErrUnknownChannel),
		errors.Is(err, voice.ErrNotInChannel):
		return http.StatusUnprocessableEntity, 0
	}
	return http.StatusInternalServerError, 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, code domain.ErrorCode) {
	body := map[string]any{"error": message}
	if code != 0 {
		body["code"] = code
	}
	writeJSON(w, status, body)
}
