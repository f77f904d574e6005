// Package httpapi exposes a small read-mostly status API for the running
// bot: health, today's wish ledger, the decision audit log and the
// maintenance jobs.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/stellarlinkco/birthdaybot/internal/birthday"
	"github.com/stellarlinkco/birthdaybot/internal/cron"
	"github.com/stellarlinkco/birthdaybot/internal/ledger"
)

// Ledger is the read side of the wish ledger and audit log.
type Ledger interface {
	Today(ctx context.Context, conversationID string) (ledger.DailyRecord, error)
	RecentDecisions(ctx context.Context, conversationID string, limit int) ([]ledger.Decision, error)
	Cap() int
}

type Jobs interface {
	ListJobs() []cron.CronJob
	RunNow(name string) (string, error)
}

// ManualSender sends an operator-requested wish.
type ManualSender interface {
	SendManual(ctx context.Context, conversationID, name string) (birthday.Outcome, error)
}

type Options struct {
	Host           string
	Port           int
	AllowedOrigins []string
	Conversations  []string
	Channels       func() []string
}

type Server struct {
	opts   Options
	ledger Ledger
	jobs   Jobs         // optional
	sender ManualSender // optional
	log    zerolog.Logger
	router *chi.Mux
	srv    *http.Server
	start  time.Time
}

func New(opts Options, l Ledger, jobs Jobs, sender ManualSender, log zerolog.Logger) *Server {
	s := &Server{
		opts:   opts,
		ledger: l,
		jobs:   jobs,
		sender: sender,
		log:    log,
		router: chi.NewRouter(),
		start:  time.Now(),
	}
	s.routes()
	s.srv = &http.Server{
		Addr:              net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLog)
	if len(s.opts.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/wishes", s.handleWishesAll)
		r.Get("/wishes/{conversation}", s.handleWishes)
		r.Get("/decisions", s.handleDecisions)
		r.Get("/jobs", s.handleJobs)
		r.Post("/jobs/{name}/run", s.handleRunJob)
		r.Post("/send", s.handleSend)
	})
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("http listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		began := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(began)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
	}
	if s.opts.Channels != nil {
		resp["channels"] = s.opts.Channels()
	}
	writeJSON(w, http.StatusOK, resp)
}

type wishesResponse struct {
	ledger.DailyRecord
	Cap       int  `json:"cap"`
	Remaining int  `json:"remaining"`
	Monitored bool `json:"monitored"`
}

func (s *Server) wishes(ctx context.Context, conv string) (wishesResponse, error) {
	rec, err := s.ledger.Today(ctx, conv)
	if err != nil {
		return wishesResponse{}, err
	}
	if rec.Names == nil {
		rec.Names = []string{}
	}
	remaining := s.ledger.Cap() - rec.Count
	if remaining < 0 {
		remaining = 0
	}
	return wishesResponse{
		DailyRecord: rec,
		Cap:         s.ledger.Cap(),
		Remaining:   remaining,
		Monitored:   s.monitored(conv),
	}, nil
}

func (s *Server) monitored(conv string) bool {
	for _, c := range s.opts.Conversations {
		if c == conv {
			return true
		}
	}
	return false
}

func (s *Server) handleWishes(w http.ResponseWriter, r *http.Request) {
	conv := chi.URLParam(r, "conversation")
	resp, err := s.wishes(r.Context(), conv)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWishesAll(w http.ResponseWriter, r *http.Request) {
	out := make([]wishesResponse, 0, len(s.opts.Conversations))
	for _, conv := range s.opts.Conversations {
		resp, err := s.wishes(r.Context(), conv)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be 1..500"))
			return
		}
		limit = n
	}
	decisions, err := s.ledger.RecentDecisions(r.Context(), r.URL.Query().Get("conversation"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if decisions == nil {
		decisions = []ledger.Decision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeJSON(w, http.StatusOK, []cron.CronJob{})
		return
	}
	writeJSON(w, http.StatusOK, s.jobs.ListJobs())
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("scheduler not running"))
		return
	}
	name := chi.URLParam(r, "name")
	result, err := s.jobs.RunNow(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job": name, "result": result})
}

type sendRequest struct {
	Conversation string `json:"conversation"`
	Name         string `json:"name"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if s.sender == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("manual send disabled"))
		return
	}
	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if req.Conversation == "" {
		writeError(w, http.StatusBadRequest, errors.New("conversation is required"))
		return
	}
	if !slices.Contains(s.opts.Conversations, req.Conversation) {
		writeError(w, http.StatusForbidden, fmt.Errorf("%w: %s", birthday.ErrUnmonitoredConversation, req.Conversation))
		return
	}
	out, err := s.sender.SendManual(r.Context(), req.Conversation, req.Name)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ledger.ErrDailyCapReached):
			status = http.StatusConflict
		case errors.Is(err, birthday.ErrUnmonitoredConversation):
			status = http.StatusForbidden
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"action": string(out.Action),
		"name":   out.Name,
		"reply":  out.Reply,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
