package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"ticketgate/internal/config"
	"ticketgate/internal/models"
)

// AttemptQuery фильтрует журнал попыток прохода
type AttemptQuery struct {
	EventID  string
	Outcome  models.CheckInOutcome
	Page     int
	PageSize int
}

// AttemptPage одна страница журнала
type AttemptPage struct {
	Attempts []models.CheckInAttempt `json:"attempts"`
	Total    int64                   `json:"total"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
}

// ElasticsearchClient хранит журнал попыток прохода в Elasticsearch
type ElasticsearchClient struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticsearchClient создает клиент и индекс, если его нет
func NewElasticsearchClient(cfg config.AuditConfig) (*ElasticsearchClient, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.Username,
		Password:      cfg.Password,
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	client := NewWithClient(es, cfg.Index)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := client.ensureIndex(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure index exists: %w", err)
	}

	return client, nil
}

func NewWithClient(es *elasticsearch.Client, index string) *ElasticsearchClient {
	return &ElasticsearchClient{client: es, index: index}
}

// ensureIndex создает индекс если он не существует
func (c *ElasticsearchClient) ensureIndex(ctx context.Context) error {
	req := esapi.IndicesExistsRequest{
		Index: []string{c.index},
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK {
		slog.Info("Elasticsearch index already exists", "index", c.index)
		return nil
	}

	keyword := map[string]any{"type": "keyword"}
	mapping := map[string]any{
		"settings": map[string]any{
			"number_of_shards":   1,
			"number_of_replicas": 0,
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":          keyword,
				"ticket_code": keyword,
				"ticket_id":   keyword,
				"event_id":    keyword,
				"operator_id": keyword,
				"gate":        keyword,
				"outcome":     keyword,
				"message":     map[string]any{"type": "text"},
				"latency_ms":  map[string]any{"type": "long"},
				"timestamp": map[string]any{
					"type":   "date",
					"format": "strict_date_optional_time||epoch_millis",
				},
			},
		},
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	createReq := esapi.IndicesCreateRequest{
		Index: c.index,
		Body:  bytes.NewReader(body),
	}

	createRes, err := createReq.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		return fmt.Errorf("failed to create index: %s", createRes.String())
	}

	slog.Info("Created Elasticsearch index", "index", c.index)
	return nil
}

// IndexAttempt записывает одну попытку прохода
func (c *ElasticsearchClient) IndexAttempt(ctx context.Context, attempt *models.CheckInAttempt) error {
	body, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: attempt.ID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to index attempt: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("indexing error: %s", res.String())
	}

	return nil
}

// SearchAttempts возвращает попытки события, новые первыми
func (c *ElasticsearchClient) SearchAttempts(ctx context.Context, q AttemptQuery) (*AttemptPage, error) {
	if q.PageSize <= 0 {
		q.PageSize = 50
	}
	if q.Page <= 0 {
		q.Page = 1
	}

	filters := []map[string]any{
		{"term": map[string]any{"event_id": q.EventID}},
	}
	if q.Outcome != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"outcome": string(q.Outcome)},
		})
	}

	searchRequest := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{"filter": filters},
		},
		"sort": []map[string]any{
			{"timestamp": map[string]any{"order": "desc"}},
		},
		"from":             (q.Page - 1) * q.PageSize,
		"size":             q.PageSize,
		"track_total_hits": true,
	}

	body, err := json.Marshal(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{c.index},
		Body:  bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", res.String())
	}

	var response struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.CheckInAttempt `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	page := &AttemptPage{
		Attempts: make([]models.CheckInAttempt, len(response.Hits.Hits)),
		Total:    response.Hits.Total.Value,
		Page:     q.Page,
		PageSize: q.PageSize,
	}
	for i, hit := range response.Hits.Hits {
		page.Attempts[i] = hit.Source
	}

	return page, nil
}

// HealthCheck проверяет доступность кластера
func (c *ElasticsearchClient) HealthCheck(ctx context.Context) error {
	res, err := c.client.Ping(c.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to ping Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("Elasticsearch ping error: %s", res.String())
	}

	return nil
}
