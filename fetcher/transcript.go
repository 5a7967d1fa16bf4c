package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"ewintr.nl/ytsum/model"
)

const timedtextURL = "https://www.youtube.com/api/timedtext"

type timedtextDoc struct {
	Events []struct {
		Segs []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

// Timedtext fetches caption tracks from the YouTube timedtext endpoint,
// trying the configured languages in order.
type Timedtext struct {
	client    *http.Client
	baseURL   string
	languages []string
}

func NewTimedtext(client *http.Client, languages []string) *Timedtext {
	if len(languages) == 0 {
		languages = []string{"en"}
	}
	return &Timedtext{
		client:    client,
		baseURL:   timedtextURL,
		languages: languages,
	}
}

func (t *Timedtext) Fetch(ctx context.Context, videoID model.YoutubeVideoID) (model.TranscriptResult, error) {
	for _, lang := range t.languages {
		text, err := t.fetchLanguage(ctx, videoID, lang)
		if err != nil {
			return model.TranscriptResult{Status: model.TranscriptError}, err
		}
		if text == "" {
			continue
		}

		return model.TranscriptResult{
			Status:   model.TranscriptSuccess,
			Text:     text,
			Language: lang,
		}, nil
	}

	return model.TranscriptResult{Status: model.TranscriptUnavailable}, nil
}

func (t *Timedtext) fetchLanguage(ctx context.Context, videoID model.YoutubeVideoID, lang string) (string, error) {
	q := url.Values{}
	q.Set("v", string(videoID))
	q.Set("lang", lang)
	q.Set("fmt", "json3")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("timedtext %s: %w: %v", videoID, model.ErrUnavailable, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound, res.StatusCode == http.StatusForbidden:
		return "", nil
	case res.StatusCode != http.StatusOK:
		return "", fmt.Errorf("timedtext %s: %w: status %d", videoID, model.ErrUnavailable, res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("timedtext %s: %w: %v", videoID, model.ErrUnavailable, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", nil
	}

	var doc timedtextDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("timedtext %s: %w: invalid body: %v", videoID, model.ErrUnavailable, err)
	}

	parts := []string{}
	for _, ev := range doc.Events {
		var line strings.Builder
		for _, seg := range ev.Segs {
			line.WriteString(seg.UTF8)
		}
		if l := strings.TrimSpace(strings.ReplaceAll(line.String(), "\n", " ")); l != "" {
			parts = append(parts, l)
		}
	}

	return strings.Join(parts, " "), nil
}
