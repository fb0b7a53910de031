package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/models"
	"application-tracker/internal/timeline"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	body   string
}

// fakeTransport answers every request with the next canned response.
type fakeTransport struct {
	requests  []recordedRequest
	responses []*http.Response
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}
	f.requests = append(f.requests, recordedRequest{req.Method, req.URL.Path, req.URL.RawQuery, body})

	res := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	res.Request = req
	return res, nil
}

func response(status int, body string) *http.Response {
	h := http.Header{}
	h.Set("X-Elastic-Product", "Elasticsearch")
	h.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newIndexer(t *testing.T, responses ...*http.Response) (*Indexer, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{responses: responses}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{"http://es.test:9200"},
		Transport: tr,
	})
	require.NoError(t, err)
	engine := timeline.NewEngine(timeline.WithClock(func() time.Time {
		return time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	}))
	return NewIndexer(client, "", engine, logger.NewTestLogger(t)), tr
}

func sampleRecord() *models.ApplicationRecord {
	created := time.Date(2026, 3, 28, 10, 0, 0, 0, time.UTC)
	return &models.ApplicationRecord{
		SessionID:     "web_abc",
		Channel:       models.ChannelWeb,
		CurrentStep:   models.StepCompleted,
		ReferenceCode: "X1Y2Z3",
		FormData: models.Document{
			"business": "Honda Civic",
			"amount":   22000,
			"formResponses": map[string]interface{}{
				"firstName": "Tendai",
				"lastName":  "Moyo",
			},
		},
		Metadata:  models.Metadata{Status: timeline.StatusUnderReview},
		CreatedAt: created,
		UpdatedAt: created.Add(time.Hour),
	}
}

func TestIndexer_Index(t *testing.T) {
	ix, tr := newIndexer(t, response(http.StatusCreated, `{"result":"created"}`))

	require.NoError(t, ix.Index(context.Background(), sampleRecord()))
	require.Len(t, tr.requests, 1)

	req := tr.requests[0]
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/applications/_doc/web_abc", req.path)

	var doc Snapshot
	require.NoError(t, json.Unmarshal([]byte(req.body), &doc))
	assert.Equal(t, "X1Y2Z3", doc.ReferenceCode)
	assert.Equal(t, "under_review", doc.Status)
	assert.Equal(t, "Tendai Moyo", doc.ApplicantName)
	assert.Equal(t, "Honda Civic", doc.Business)
	assert.Equal(t, 22000.0, doc.LoanAmount)
	assert.Equal(t, "completed", doc.CurrentStep)
}

func TestIndexer_IndexError(t *testing.T) {
	ix, _ := newIndexer(t, response(http.StatusBadRequest, `{"error":"mapper_parsing_exception"}`))

	err := ix.Index(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSearchIndexFailed, apperrors.AsStandardError(err).Code)
}

func TestIndexer_Search(t *testing.T) {
	ix, tr := newIndexer(t, response(http.StatusOK, `{
		"took": 2,
		"hits": {
			"total": {"value": 1, "relation": "eq"},
			"hits": [{"_id": "web_abc", "_source": {"sessionId": "web_abc", "status": "approved", "business": "Honda Civic"}}]
		}
	}`))

	res, err := ix.Search(context.Background(), Query{Status: " Approved ", Text: "honda", Size: 500})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Total)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "web_abc", res.Hits[0].SessionID)

	req := tr.requests[0]
	assert.Equal(t, "/applications/_search", req.path)
	assert.Contains(t, req.query, "size=100")
	assert.Contains(t, req.body, `"term":{"status":"approved"}`)
	assert.Contains(t, req.body, `"query":"honda"`)
	assert.NotContains(t, req.body, `"sort"`)
}

func TestBuildQuery_SortsNewestWithoutText(t *testing.T) {
	body := buildQuery(Query{})
	assert.Contains(t, body, "sort")

	b, err := json.Marshal(body)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"filter":[]`)
}

func TestIndexer_EnsureIndex(t *testing.T) {
	ix, tr := newIndexer(t,
		response(http.StatusNotFound, ``),
		response(http.StatusOK, `{"acknowledged":true}`),
	)

	require.NoError(t, ix.EnsureIndex(context.Background()))
	require.Len(t, tr.requests, 2)
	assert.Equal(t, http.MethodHead, tr.requests[0].method)
	assert.Equal(t, http.MethodPut, tr.requests[1].method)
	assert.Contains(t, tr.requests[1].body, `"referenceCode"`)
}

func TestIndexer_EnsureIndexExisting(t *testing.T) {
	ix, tr := newIndexer(t, response(http.StatusOK, ``))

	require.NoError(t, ix.EnsureIndex(context.Background()))
	assert.Len(t, tr.requests, 1)
}
