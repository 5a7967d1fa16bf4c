package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"time"

	"ewintr.nl/ytsum/model"
	"ewintr.nl/ytsum/schedule"
	"ewintr.nl/ytsum/storage"
	"github.com/google/uuid"
)

// App is the part of app.App the API exposes.
type App interface {
	TriggerRun(ctx context.Context) (uuid.UUID, error)
	RunHistory(ctx context.Context, limit, offset int) ([]*model.Run, error)
	Status(ctx context.Context) (schedule.Status, error)
	AddChannel(ctx context.Context, identifier string) (*model.Channel, error)
	RemoveChannel(ctx context.Context, id uuid.UUID) error
	Channels(ctx context.Context) ([]*model.Channel, error)
	Stats(ctx context.Context) (storage.Stats, error)
}

type Server struct {
	routes map[string]http.Handler
	logger *slog.Logger
}

func NewServer(app App, logger *slog.Logger) *Server {
	return &Server{
		routes: map[string]http.Handler{
			"run":     NewRunAPI(app, logger),
			"status":  NewStatusAPI(app, logger),
			"channel": NewChannelAPI(app, logger),
		},
		logger: logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requested := r.URL.Path

	// handlers write status before body, the recorder lets us set the
	// content type afterwards
	rec := httptest.NewRecorder()
	s.route(rec, r)

	w.Header().Set("Content-Type", "application/json")
	for k, v := range rec.Header() {
		w.Header()[k] = v
	}
	w.WriteHeader(rec.Code)
	w.Write(rec.Body.Bytes())

	s.logger.Info("request served",
		slog.String("method", r.Method),
		slog.String("path", requested),
		slog.Int("status", rec.Code),
		slog.Duration("took", time.Since(start)),
	)
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	head, tail := ShiftPath(r.URL.Path)
	if head == "" {
		Index(w)
		return
	}
	api, ok := s.routes[head]
	if !ok {
		Error(w, http.StatusNotFound, "not found", fmt.Errorf("%s is not a valid path", r.URL.Path))
		return
	}
	r.URL.Path = tail
	api.ServeHTTP(w, r)
}

// ShiftPath cleans p and splits off its first segment. head has no slashes,
// tail is rooted and has no trailing slash.
func ShiftPath(p string) (head, tail string) {
	p = path.Clean("/" + p)
	rest := p[1:]
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		return rest, "/"
	}

	return rest[:i], rest[i:]
}

func returnErr(logger *slog.Logger, w http.ResponseWriter, status int, message string, err error, details ...any) {
	logger.Error(message, slog.String("error", err.Error()), slog.String("details", fmt.Sprintf("%+v", details)))
	Error(w, status, message, err, details...)
}
