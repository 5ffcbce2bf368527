package search

import (
	"bytes"
	"context"
	"encoding/json"

	"example.com/dompay/services/esocial/config"
	"example.com/dompay/services/esocial/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ElasticClient projects terminal events into Elasticsearch for the audit
// dashboard
type ElasticClient struct {
	client  *elasticsearch.Client
	config  config.ElasticConfig
	enabled bool
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	if !cfg.Enabled {
		return &ElasticClient{enabled: false}, nil
	}

	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client:  client,
		config:  cfg,
		enabled: true,
	}, nil
}

// IndexEvent indexes a terminal event. Indexing failures are the dashboard's
// problem, not the pipeline's; callers log and move on.
func (c *ElasticClient) IndexEvent(ctx context.Context, event *models.Event) error {
	if c == nil || !c.enabled {
		return nil
	}

	doc := map[string]interface{}{
		"id":          event.ID.String(),
		"event_type":  event.EventType,
		"status":      event.Status,
		"retry_count": event.RetryCount,
		"created_at":  event.CreatedAt,
	}
	if event.Protocol != nil {
		doc["protocol"] = *event.Protocol
	}
	if event.Error != nil {
		doc["error"] = *event.Error
	}
	if event.ProcessedAt != nil {
		doc["processed_at"] = *event.ProcessedAt
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event document")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: event.ID.String(),
		Body:       bytes.NewReader(docJSON),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to index event")
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("index request failed: %s", res.String())
	}

	log.Debug().Str("event_id", event.ID.String()).Str("index", indexName).Msg("Event indexed")
	return nil
}
