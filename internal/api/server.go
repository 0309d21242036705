package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"animewife/internal/bot"
	"animewife/internal/images"
	"animewife/internal/wife"
)

// ImageStore renders and loads image identifiers for API clients.
type ImageStore interface {
	URL(id string) string
	Fetch(ctx context.Context, id string) ([]byte, string, error)
}

type Options struct {
	// Token, when set, is required as a bearer token on /v1 routes.
	Token   string
	Timeout time.Duration
}

type Server struct {
	opts   Options
	log    *slog.Logger
	wife   *wife.Service
	router *bot.Router
	images ImageStore
	mux    *chi.Mux
}

func New(opts Options, logger *slog.Logger, svc *wife.Service, router *bot.Router, imgs ImageStore) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	s := &Server{
		opts:   opts,
		log:    logger,
		wife:   svc,
		router: router,
		images: imgs,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.Timeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/groups/{group}/messages", s.handleMessage)
		r.Get("/groups/{group}/users/{user}/backpack", s.handleBackpack)
		r.Get("/groups/{group}/users/{user}/trades", s.handleTrades)
		r.Get("/images/*", s.handleImage)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type messageRequest struct {
	SenderID   string   `json:"sender_id"`
	SenderName string   `json:"sender_name"`
	Text       string   `json:"text"`
	Mentions   []string `json:"mentions"`
	Addressed  bool     `json:"addressed"`
}

type replyJSON struct {
	Text     string `json:"text"`
	Image    string `json:"image,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// webhook is the transport seen by commands arriving over HTTP.
type webhook struct{}

func (webhook) Mention(user string) string { return "@" + user }

func (webhook) DisplayName(context.Context, string, string) (string, error) { return "", nil }

func (webhook) Mute(context.Context, string, string, time.Duration) error {
	return bot.ErrMuteUnsupported
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var in messageRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.SenderID = strings.TrimSpace(in.SenderID)
	if in.SenderID == "" {
		writeError(w, http.StatusBadRequest, "sender_id is required")
		return
	}
	msgID := messageID(r)
	replies := s.router.Handle(r.Context(), bot.Message{
		Group:      chi.URLParam(r, "group"),
		Sender:     in.SenderID,
		SenderName: in.SenderName,
		Text:       in.Text,
		Mentions:   in.Mentions,
		Addressed:  in.Addressed,
	}, webhook{})

	out := make([]replyJSON, 0, len(replies))
	for _, rep := range replies {
		j := replyJSON{Text: rep.Text, Image: rep.Image}
		if rep.Image != "" && s.images != nil {
			j.ImageURL = s.images.URL(rep.Image)
		}
		out = append(out, j)
	}
	s.log.Debug("webhook message", "group", chi.URLParam(r, "group"), "user", in.SenderID, "message_id", msgID, "replies", len(out))
	writeJSON(w, http.StatusOK, map[string]any{"message_id": msgID, "replies": out})
}

func (s *Server) handleBackpack(w http.ResponseWriter, r *http.Request) {
	view, err := s.wife.Backpack(r.Context(), chi.URLParam(r, "group"), chi.URLParam(r, "user"), "")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	list, err := s.wife.TradeRequests(r.Context(), chi.URLParam(r, "group"), chi.URLParam(r, "user"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if list.Sent == nil {
		list.Sent = []wife.TradeView{}
	}
	if list.Received == nil {
		list.Received = []wife.TradeView{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		writeError(w, http.StatusNotFound, images.ErrNotFound.Error())
		return
	}
	id, ok := images.Normalize(chi.URLParam(r, "*"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid image id")
		return
	}
	raw, ct, err := s.images.Fetch(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wife.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, wife.ErrSlotOutOfRange), errors.Is(err, wife.ErrSelfTarget), errors.Is(err, wife.ErrNoTarget):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, wife.ErrNoTradeRequest), errors.Is(err, images.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, wife.ErrContestDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, wife.ErrRaceLost), errors.Is(err, wife.ErrTradeStale), errors.Is(err, wife.ErrTradePending):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, wife.ErrImageUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	case wife.IsUserError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func messageID(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
