package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ewintr.nl/ytsum/model"
	"ewintr.nl/ytsum/schedule"
)

type respRun struct {
	ID                 string     `json:"id"`
	Trigger            string     `json:"trigger"`
	Status             string     `json:"status"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	ChannelsChecked    int        `json:"channels_checked"`
	VideosDiscovered   int        `json:"videos_discovered"`
	TranscriptsFetched int        `json:"transcripts_fetched"`
	SummariesCreated   int        `json:"summaries_created"`
	Errors             int        `json:"errors"`
	ErrorDetail        []string   `json:"error_detail,omitempty"`
}

func newRespRun(r *model.Run) respRun {
	resp := respRun{
		ID:                 r.ID.String(),
		Trigger:            string(r.Trigger),
		Status:             string(r.Status),
		StartedAt:          r.StartedAt,
		ChannelsChecked:    r.ChannelsChecked,
		VideosDiscovered:   r.VideosDiscovered,
		TranscriptsFetched: r.TranscriptsFetched,
		SummariesCreated:   r.SummariesCreated,
		Errors:             r.Errors,
		ErrorDetail:        r.ErrorDetail,
	}
	if !r.FinishedAt.IsZero() {
		finished := r.FinishedAt
		resp.FinishedAt = &finished
	}

	return resp
}

type RunAPI struct {
	app    App
	logger *slog.Logger
}

func NewRunAPI(app App, logger *slog.Logger) *RunAPI {
	return &RunAPI{
		app:    app,
		logger: logger,
	}
}

func (ra *RunAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sub, _ := ShiftPath(r.URL.Path)

	switch {
	case r.Method == http.MethodGet && sub == "":
		ra.List(w, r)
	case r.Method == http.MethodPost && sub == "":
		ra.Trigger(w, r)
	default:
		Error(w, http.StatusNotFound, "not found", fmt.Errorf("method %s with subpath %q was not registered in the run api", r.Method, sub))
	}
}

func (ra *RunAPI) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid pagination", err)
		return
	}

	runs, err := ra.app.RunHistory(r.Context(), limit, offset)
	if err != nil {
		returnErr(ra.logger, w, http.StatusInternalServerError, "could not list runs", err)
		return
	}

	resp := make([]respRun, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, newRespRun(run))
	}
	if err := JSON(w, http.StatusOK, resp); err != nil {
		returnErr(ra.logger, w, http.StatusInternalServerError, "could not marshal response", err)
	}
}

func (ra *RunAPI) Trigger(w http.ResponseWriter, r *http.Request) {
	id, err := ra.app.TriggerRun(r.Context())
	switch {
	case errors.Is(err, schedule.ErrRunInProgress):
		Error(w, http.StatusConflict, "run already in progress", err, id.String())
		return
	case err != nil:
		returnErr(ra.logger, w, StatusFor(err), "could not trigger run", err)
		return
	}

	Message(w, http.StatusAccepted, "run started", id.String())
}

func pagination(r *http.Request) (int, int, error) {
	limit, offset := 20, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("limit must be a positive number, got %q", v)
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("offset must be zero or more, got %q", v)
		}
		offset = n
	}

	return limit, offset, nil
}
