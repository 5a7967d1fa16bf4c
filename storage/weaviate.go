package storage

import (
	"context"
	"errors"
	"net/http"

	"ewintr.nl/ytsum/model"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/fault"
	"github.com/weaviate/weaviate/entities/models"
)

const (
	summaryClass = "Summary"
	vectorizer   = "text2vec-openai"
)

type WeaviateInfo struct {
	Host         string
	ApiKey       string
	OpenAIApiKey string
}

// Weaviate keeps summaries in a vector index so they can be searched by
// meaning. It is optional; the relational store stays the source of truth.
type Weaviate struct {
	client *weaviate.Client
}

func NewWeaviate(info WeaviateInfo) (*Weaviate, error) {
	c, err := weaviate.NewClient(weaviate.Config{
		Scheme:     "https",
		Host:       info.Host,
		AuthConfig: auth.ApiKey{Value: info.ApiKey},
		Headers:    map[string]string{"X-OpenAI-Api-Key": info.OpenAIApiKey},
	})
	if err != nil {
		return nil, err
	}

	return &Weaviate{client: c}, nil
}

// ResetSchema drops the summary class with all its objects and creates it
// again.
func (w *Weaviate) ResetSchema(ctx context.Context) error {
	err := w.client.Schema().ClassDeleter().WithClassName(summaryClass).Do(ctx)
	var werr *fault.WeaviateClientError
	// a missing class is reported as bad request
	if err != nil && !(errors.As(err, &werr) && werr.StatusCode == http.StatusBadRequest) {
		return err
	}

	return w.client.Schema().ClassCreator().WithClass(summaryClassDef()).Do(ctx)
}

// Save stores the summary under the id of its video, replacing an earlier
// version.
func (w *Weaviate) Save(ctx context.Context, video *model.Video, summary *model.Summary) error {
	id := video.ID.String()
	props := summaryProperties(video, summary)

	exists, err := w.client.Data().Checker().WithClassName(summaryClass).WithID(id).Do(ctx)
	if err != nil {
		return err
	}
	if exists {
		return w.client.Data().Updater().WithClassName(summaryClass).WithID(id).WithProperties(props).Do(ctx)
	}
	_, err = w.client.Data().Creator().WithClassName(summaryClass).WithID(id).WithProperties(props).Do(ctx)

	return err
}

func summaryClassDef() *models.Class {
	return &models.Class{
		Class:       summaryClass,
		Description: "Video summaries",
		Vectorizer:  vectorizer,
		ModuleConfig: map[string]any{
			vectorizer: map[string]any{
				"model":        "ada",
				"modelVersion": "002",
				"type":         "text",
			},
		},
		Properties: summarySchema(),
	}
}

func summaryProperties(video *model.Video, summary *model.Summary) map[string]any {
	return map[string]any{
		"youtubeId":        string(video.YoutubeID),
		"youtubeChannelId": string(video.YoutubeChannelID),
		"title":            video.Title,
		"url":              video.URL,
		"summary":          summary.Text,
		"keyPoints":        summary.KeyPoints,
		"model":            summary.Model,
	}
}

// summarySchema lists the properties, only title, summary and key points are
// vectorized.
func summarySchema() []*models.Property {
	var props []*models.Property
	for _, name := range []string{"youtubeId", "youtubeChannelId", "url", "model"} {
		props = append(props, &models.Property{
			Name:         name,
			DataType:     []string{"text"},
			ModuleConfig: map[string]any{vectorizer: map[string]any{"skip": true}},
		})
	}

	return append(props,
		&models.Property{Name: "title", DataType: []string{"text"}},
		&models.Property{Name: "summary", DataType: []string{"text"}},
		&models.Property{Name: "keyPoints", DataType: []string{"text[]"}},
	)
}
