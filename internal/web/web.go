package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"untiscal/internal/access"
	"untiscal/internal/config"
	"untiscal/internal/feed"
	appLog "untiscal/internal/log"
	"untiscal/internal/model"
	"untiscal/internal/untis"
)

// Server serves the calendar feeds and a small JSON API for inspecting
// them.
type Server struct {
	cfg   *config.Config
	store access.Store
	gen   *feed.Generator
	now   func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, store access.Store, gen *feed.Generator) *Server {
	return &Server{cfg: cfg, store: store, gen: gen, now: time.Now}
}

// Handler returns the routed http.Handler for this server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	// {id} also matches "<id>.ics"; the handler strips the suffix.
	r.Get("/ics/{id}", s.handleICS)

	r.Route("/api", func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled for /api")
			r.Use(s.basicAuthMiddleware)
		}
		r.Get("/accesses/{id}/events", s.handleEvents)
		r.Get("/accesses/{id}/classes", s.handleClasses)
		r.Delete("/accesses/{id}", s.handleDelete)
	})
	return r
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="untiscal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func StartServer(ctx context.Context, cfg *config.Config, store access.Store, gen *feed.Generator) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewServer(cfg, store, gen).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleICS serves the feed of one access.
//
// GET /ics/{id} and GET /ics/{id}.ics
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(chi.URLParam(r, "id"), ".ics")

	now := s.now()
	res, ok := s.generate(w, r, id, now)
	if !ok {
		return
	}

	body := res.ICS(now, s.gen.Refresh())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": res.Access.Name + ".ics"}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// eventsResponse is the JSON response shape for /api/accesses/{id}/events.
type eventsResponse struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Timezone string     `json:"timezone"`
	Start    int        `json:"start"`
	End      int        `json:"end"`
	Events   []eventDTO `json:"events"`
}

// eventDTO is a JSON-friendly view of a calendar event.
type eventDTO struct {
	UID          string    `json:"uid"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Summary      string    `json:"summary"`
	Description  string    `json:"description,omitempty"`
	Location     string    `json:"location,omitempty"`
	Status       string    `json:"status"`
	BusyStatus   string    `json:"busy_status"`
	Transparency string    `json:"transparency"`
	Attachments  []string  `json:"attachments,omitempty"`
}

func toDTO(ev model.CalendarEvent) eventDTO {
	return eventDTO{
		UID:          ev.UID,
		Start:        ev.Start,
		End:          ev.End,
		Summary:      ev.Summary,
		Description:  ev.Description,
		Location:     ev.Location,
		Status:       string(ev.Status),
		BusyStatus:   string(ev.BusyStatus),
		Transparency: string(ev.Transparency),
		Attachments:  ev.Attachments,
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	res, ok := s.generate(w, r, chi.URLParam(r, "id"), s.now())
	if !ok {
		return
	}

	dtos := make([]eventDTO, 0, len(res.Events))
	for _, ev := range res.Events {
		dtos = append(dtos, toDTO(ev))
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		ID:       res.Access.ID,
		Name:     res.Access.Name,
		Timezone: res.Access.Timezone,
		Start:    res.Start,
		End:      res.End,
		Events:   dtos,
	})
}

type classDTO struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	LongName string `json:"long_name,omitempty"`
}

func (s *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	classes, err := s.gen.Classes(r.Context(), a)
	if err != nil {
		s.fail(w, a.ID, err)
		return
	}

	dtos := make([]classDTO, 0, len(classes))
	for _, c := range classes {
		dtos = append(dtos, classDTO{ID: c.ID, Name: c.Name, LongName: c.LongName})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// handleDelete removes an access; its feed URL stops working.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.fail(w, id, err)
		return
	}
	appLog.Info("access deleted", "access", appLog.RedactID(id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request, id string) (access.Access, bool) {
	a, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.fail(w, id, err)
		return access.Access{}, false
	}
	return a, true
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request, id string, now time.Time) (*feed.Result, bool) {
	a, ok := s.lookup(w, r, id)
	if !ok {
		return nil, false
	}
	res, err := s.gen.Generate(r.Context(), a, now)
	if err != nil {
		s.fail(w, a.ID, err)
		return nil, false
	}
	return res, true
}

// fail maps a lookup or pipeline error to a response. Details stay in the
// log; clients only get a fixed message.
func (s *Server) fail(w http.ResponseWriter, id string, err error) {
	status, msg := errorResponse(err)
	if status >= http.StatusInternalServerError {
		appLog.Error("feed request failed", err, "access", appLog.RedactID(id))
	}
	writeError(w, status, msg)
}

func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, access.ErrNotFound):
		return http.StatusNotFound, "Access not found"
	case errors.Is(err, access.ErrInvalid):
		return http.StatusInternalServerError, "Invalid access"
	case errors.Is(err, untis.ErrAuth):
		return http.StatusInternalServerError, "Login to Untis failed"
	case errors.Is(err, untis.ErrExams):
		return http.StatusInternalServerError, "Failed to get exams"
	case errors.Is(err, untis.ErrFetch):
		return http.StatusInternalServerError, "Failed to get lessons"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
