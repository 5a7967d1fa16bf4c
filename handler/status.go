package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type StatusAPI struct {
	app    App
	logger *slog.Logger
}

func NewStatusAPI(app App, logger *slog.Logger) *StatusAPI {
	return &StatusAPI{
		app:    app,
		logger: logger,
	}
}

func (sa *StatusAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sub, _ := ShiftPath(r.URL.Path)
	if r.Method != http.MethodGet || sub != "" {
		Error(w, http.StatusNotFound, "not found", fmt.Errorf("method %s with subpath %q was not registered in the status api", r.Method, sub))
		return
	}

	status, err := sa.app.Status(r.Context())
	if err != nil {
		returnErr(sa.logger, w, http.StatusInternalServerError, "could not get status", err)
		return
	}
	stats, err := sa.app.Stats(r.Context())
	if err != nil {
		returnErr(sa.logger, w, http.StatusInternalServerError, "could not get stats", err)
		return
	}

	type respStats struct {
		Channels    int `json:"channels"`
		Videos      int `json:"videos"`
		Transcripts int `json:"transcripts"`
		Summaries   int `json:"summaries"`
		Runs        int `json:"runs"`
	}
	resp := struct {
		Running     bool       `json:"running"`
		ActiveRunID string     `json:"active_run_id,omitempty"`
		LastRun     *respRun   `json:"last_run,omitempty"`
		NextRun     *time.Time `json:"next_run,omitempty"`
		QueueDepth  int        `json:"queue_depth"`
		Stats       respStats  `json:"stats"`
	}{
		Running:    status.Running,
		QueueDepth: status.QueueDepth,
		Stats:      respStats(stats),
	}
	if status.Running {
		resp.ActiveRunID = status.ActiveRunID.String()
	}
	if status.LastRun != nil {
		last := newRespRun(status.LastRun)
		resp.LastRun = &last
	}
	if !status.NextRun.IsZero() {
		next := status.NextRun
		resp.NextRun = &next
	}

	if err := JSON(w, http.StatusOK, resp); err != nil {
		returnErr(sa.logger, w, http.StatusInternalServerError, "could not marshal response", err)
	}
}
