// Package search keeps an Elasticsearch index of application status
// snapshots for back-office listing.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/models"
	"application-tracker/internal/timeline"
)

const DefaultIndex = "applications"

const (
	defaultSize = 20
	maxSize     = 100
)

// Snapshot is the indexed projection of one record.
type Snapshot struct {
	SessionID          string     `json:"sessionId"`
	ReferenceCode      string     `json:"referenceCode,omitempty"`
	Channel            string     `json:"channel"`
	Status             string     `json:"status"`
	CurrentStep        string     `json:"currentStep"`
	ApplicantName      string     `json:"applicantName"`
	Business           string     `json:"business"`
	LoanAmount         float64    `json:"loanAmount"`
	ProgressPercentage int        `json:"progressPercentage"`
	SubmittedAt        *time.Time `json:"submittedAt,omitempty"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// Query filters a search. Empty fields match everything.
type Query struct {
	Status string
	Text   string
	From   int
	Size   int
}

type Result struct {
	Total int64      `json:"total"`
	Hits  []Snapshot `json:"hits"`
}

type Indexer struct {
	client *elasticsearch.Client
	index  string
	engine *timeline.Engine
	logger logger.Logger
}

func NewIndexer(client *elasticsearch.Client, index string, engine *timeline.Engine, log logger.Logger) *Indexer {
	if index == "" {
		index = DefaultIndex
	}
	return &Indexer{
		client: client,
		index:  index,
		engine: engine,
		logger: log.WithFields(map[string]interface{}{"component": "search", "index": index}),
	}
}

// SnapshotOf projects a record through the indexer's status engine.
func (ix *Indexer) SnapshotOf(rec *models.ApplicationRecord) Snapshot {
	return NewSnapshot(ix.engine, rec)
}

// NewSnapshot projects a record through engine.
func NewSnapshot(engine *timeline.Engine, rec *models.ApplicationRecord) Snapshot {
	view := engine.BuildStatusView(rec)
	return Snapshot{
		SessionID:          rec.SessionID,
		ReferenceCode:      rec.ReferenceCode,
		Channel:            string(rec.Channel),
		Status:             view.Status,
		CurrentStep:        rec.CurrentStep.String(),
		ApplicantName:      view.ApplicantName,
		Business:           view.Business,
		LoanAmount:         view.LoanAmount,
		ProgressPercentage: view.ProgressPercentage,
		SubmittedAt:        view.SubmittedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
}

var indexMapping = `{
  "mappings": {
    "properties": {
      "sessionId":          {"type": "keyword"},
      "referenceCode":      {"type": "keyword"},
      "channel":            {"type": "keyword"},
      "status":             {"type": "keyword"},
      "currentStep":        {"type": "keyword"},
      "applicantName":      {"type": "text"},
      "business":           {"type": "text"},
      "loanAmount":         {"type": "double"},
      "progressPercentage": {"type": "integer"},
      "submittedAt":        {"type": "date"},
      "updatedAt":          {"type": "date"}
    }
  }
}`

// EnsureIndex creates the index with its mapping when it does not exist.
func (ix *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := ix.client.Indices.Exists([]string{ix.index}, ix.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return apperrors.NewSearchIndexFailedError("exists", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = ix.client.Indices.Create(ix.index,
		ix.client.Indices.Create.WithContext(ctx),
		ix.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return apperrors.NewSearchIndexFailedError("create index", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return apperrors.NewSearchIndexFailedError("create index", fmt.Errorf("%s", res.String()))
	}
	ix.logger.Info("search index created", nil)
	return nil
}

// Index upserts the snapshot of rec, keyed by session id.
func (ix *Indexer) Index(ctx context.Context, rec *models.ApplicationRecord) error {
	body, err := json.Marshal(ix.SnapshotOf(rec))
	if err != nil {
		return apperrors.NewSearchIndexFailedError("encode", err)
	}

	req := esapi.IndexRequest{
		Index:      ix.index,
		DocumentID: rec.SessionID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, ix.client)
	if err != nil {
		return apperrors.NewSearchIndexFailedError("index", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.NewSearchIndexFailedError("index", fmt.Errorf("%s", res.String()))
	}
	ix.logger.Debug("application indexed", map[string]interface{}{"sessionId": rec.SessionID})
	return nil
}

// Search returns matching snapshots. Without text the newest come first.
func (ix *Indexer) Search(ctx context.Context, q Query) (*Result, error) {
	body, err := json.Marshal(buildQuery(q))
	if err != nil {
		return nil, apperrors.NewSearchIndexFailedError("encode query", err)
	}

	from, size := q.From, q.Size
	if from < 0 {
		from = 0
	}
	if size < 1 {
		size = defaultSize
	}
	if size > maxSize {
		size = maxSize
	}

	req := esapi.SearchRequest{
		Index: []string{ix.index},
		Body:  bytes.NewReader(body),
		From:  &from,
		Size:  &size,
	}
	res, err := req.Do(ctx, ix.client)
	if err != nil {
		return nil, apperrors.NewSearchIndexFailedError("search", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, apperrors.NewSearchIndexFailedError("search", fmt.Errorf("%s", res.String()))
	}

	var r struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source Snapshot `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, apperrors.NewSearchIndexFailedError("decode", err)
	}

	out := &Result{Total: r.Hits.Total.Value, Hits: make([]Snapshot, 0, len(r.Hits.Hits))}
	for _, h := range r.Hits.Hits {
		out.Hits = append(out.Hits, h.Source)
	}
	return out, nil
}

func buildQuery(q Query) map[string]interface{} {
	filter := []interface{}{}
	must := []interface{}{}

	if status := timeline.NormalizeStatus(q.Status); status != "" {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"status": status},
		})
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  text,
				"fields": []string{"applicantName^3", "business^2", "referenceCode", "sessionId"},
				"type":   "best_fields",
			},
		})
	}

	body := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": filter,
				"must":   must,
			},
		},
	}
	if len(must) == 0 {
		body["sort"] = []interface{}{
			map[string]interface{}{"updatedAt": map[string]interface{}{"order": "desc"}},
		}
	}
	return body
}
