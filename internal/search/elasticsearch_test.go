package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketgate/internal/models"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, handler func(req *http.Request, body string) (int, string)) *ElasticsearchClient {
	t.Helper()

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{"http://es.test:9200"},
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			var body string
			if req.Body != nil {
				raw, _ := io.ReadAll(req.Body)
				body = string(raw)
			}
			status, payload := handler(req, body)

			header := http.Header{}
			header.Set("X-Elastic-Product", "Elasticsearch")
			header.Set("Content-Type", "application/json")

			return &http.Response{
				StatusCode: status,
				Header:     header,
				Body:       io.NopCloser(strings.NewReader(payload)),
			}, nil
		}),
	})
	require.NoError(t, err)

	return NewWithClient(es, "checkin-attempts")
}

func TestIndexAttempt(t *testing.T) {
	var gotPath, gotBody string
	client := newTestClient(t, func(req *http.Request, body string) (int, string) {
		gotPath = req.URL.Path
		gotBody = body
		return http.StatusCreated, `{"result":"created"}`
	})

	err := client.IndexAttempt(context.Background(), &models.CheckInAttempt{
		ID:         "att-1",
		TicketCode: "CODE-0001",
		EventID:    "evt-1",
		Outcome:    models.OutcomeAlreadyUsed,
	})
	require.NoError(t, err)

	assert.Equal(t, "/checkin-attempts/_doc/att-1", gotPath)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(gotBody), &doc))
	assert.Equal(t, "already_used", doc["outcome"])
}

func TestIndexAttemptError(t *testing.T) {
	client := newTestClient(t, func(*http.Request, string) (int, string) {
		return http.StatusBadRequest, `{"error":{"type":"mapper_parsing_exception"}}`
	})

	err := client.IndexAttempt(context.Background(), &models.CheckInAttempt{ID: "att-1"})
	assert.Error(t, err)
}

func TestSearchAttemptsFiltersByOutcome(t *testing.T) {
	var query map[string]any
	client := newTestClient(t, func(_ *http.Request, body string) (int, string) {
		_ = json.Unmarshal([]byte(body), &query)
		return http.StatusOK, `{
			"hits": {
				"total": {"value": 3},
				"hits": [
					{"_source": {"id": "att-3", "event_id": "evt-1", "outcome": "invalid"}},
					{"_source": {"id": "att-2", "event_id": "evt-1", "outcome": "invalid"}}
				]
			}
		}`
	})

	page, err := client.SearchAttempts(context.Background(), AttemptQuery{
		EventID:  "evt-1",
		Outcome:  models.OutcomeInvalid,
		Page:     2,
		PageSize: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Attempts, 2)
	assert.Equal(t, "att-3", page.Attempts[0].ID)

	assert.Equal(t, float64(2), query["from"])
	filters := query["query"].(map[string]any)["bool"].(map[string]any)["filter"].([]any)
	assert.Len(t, filters, 2)
}
