package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ewintr.nl/ytsum/model"
	"github.com/google/uuid"
)

type respChannel struct {
	ID               string     `json:"id"`
	YoutubeChannelID string     `json:"youtube_channel_id"`
	Title            string     `json:"title"`
	URL              string     `json:"url"`
	FollowedAt       time.Time  `json:"followed_at"`
	LastCheckedAt    *time.Time `json:"last_checked_at,omitempty"`
}

func newRespChannel(c *model.Channel) respChannel {
	resp := respChannel{
		ID:               c.ID.String(),
		YoutubeChannelID: string(c.YoutubeChannelID),
		Title:            c.Title,
		URL:              c.URL,
		FollowedAt:       c.FollowedAt,
	}
	if !c.LastCheckedAt.IsZero() {
		checked := c.LastCheckedAt
		resp.LastCheckedAt = &checked
	}

	return resp
}

type ChannelAPI struct {
	app    App
	logger *slog.Logger
}

func NewChannelAPI(app App, logger *slog.Logger) *ChannelAPI {
	return &ChannelAPI{
		app:    app,
		logger: logger,
	}
}

func (ca *ChannelAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channelID, _ := ShiftPath(r.URL.Path)

	switch {
	case r.Method == http.MethodGet && channelID == "":
		ca.List(w, r)
	case r.Method == http.MethodPost && channelID == "":
		ca.Add(w, r)
	case r.Method == http.MethodDelete && channelID != "":
		ca.Remove(w, r, channelID)
	default:
		Error(w, http.StatusNotFound, "not found", fmt.Errorf("method %s with subpath %q was not registered in the channel api", r.Method, channelID))
	}
}

func (ca *ChannelAPI) List(w http.ResponseWriter, r *http.Request) {
	channels, err := ca.app.Channels(r.Context())
	if err != nil {
		returnErr(ca.logger, w, http.StatusInternalServerError, "could not list channels", err)
		return
	}

	resp := make([]respChannel, 0, len(channels))
	for _, c := range channels {
		resp = append(resp, newRespChannel(c))
	}
	if err := JSON(w, http.StatusOK, resp); err != nil {
		returnErr(ca.logger, w, http.StatusInternalServerError, "could not marshal response", err)
	}
}

func (ca *ChannelAPI) Add(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Identifier == "" {
		Error(w, http.StatusBadRequest, "invalid request body", errors.New("identifier is required"))
		return
	}

	channel, err := ca.app.AddChannel(r.Context(), req.Identifier)
	if err != nil {
		status := StatusFor(err)
		if status == http.StatusConflict {
			Error(w, status, "channel already followed", err)
			return
		}
		returnErr(ca.logger, w, status, "could not add channel", err)
		return
	}

	if err := JSON(w, http.StatusCreated, newRespChannel(channel)); err != nil {
		returnErr(ca.logger, w, http.StatusInternalServerError, "could not marshal response", err)
	}
}

func (ca *ChannelAPI) Remove(w http.ResponseWriter, r *http.Request, channelID string) {
	id, err := uuid.Parse(channelID)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid channel id", err)
		return
	}
	if err := ca.app.RemoveChannel(r.Context(), id); err != nil {
		returnErr(ca.logger, w, StatusFor(err), "could not remove channel", err)
		return
	}

	Message(w, http.StatusOK, "channel removed", id.String())
}
