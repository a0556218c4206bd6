package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"passgate/internal/config"
	"passgate/internal/models"
	"passgate/internal/repository"
)

const defaultPageSize = 20

// RedemptionIndex - журнал погашений в Elasticsearch
type RedemptionIndex struct {
	client *elasticsearch.Client
	config config.ElasticsearchConfig
}

// NewRedemptionIndex создает клиент и индекс при необходимости
func NewRedemptionIndex(cfg config.ElasticsearchConfig) (*RedemptionIndex, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     []string{cfg.URL},
		Username:      cfg.Username,
		Password:      cfg.Password,
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	idx := &RedemptionIndex{
		client: es,
		config: cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := idx.ensureIndex(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure index exists: %w", err)
	}

	return idx, nil
}

// ensureIndex создает индекс если он не существует
func (c *RedemptionIndex) ensureIndex(ctx context.Context) error {
	req := esapi.IndicesExistsRequest{
		Index: []string{c.config.Index},
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 200 {
		slog.Info("Elasticsearch index already exists", "index", c.config.Index)
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
				"id":           keyword,
				"subject_type": keyword,
				"subject_id":   keyword,
				"ticket_id":    keyword,
				"redeemed_by":  keyword,
				"quantity":     map[string]any{"type": "integer"},
				"redeemed_at":  map[string]any{"type": "date"},
			},
		},
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	createReq := esapi.IndicesCreateRequest{
		Index: c.config.Index,
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

	slog.Info("Created Elasticsearch index", "index", c.config.Index)
	return nil
}

// IndexRecord индексирует запись погашения. Id записи используется как id документа,
// поэтому повторная доставка сообщения не создает дубликатов.
func (c *RedemptionIndex) IndexRecord(ctx context.Context, record models.RedemptionRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.config.Index,
		DocumentID: record.ID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to index record: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("indexing error: %s", res.String())
	}

	return nil
}

// SearchRecords ищет записи по билету и/или оператору, новые первыми
func (c *RedemptionIndex) SearchRecords(ctx context.Context, filter repository.RecordFilter) (*models.RedemptionSearchResult, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	from := 0
	if filter.Page > 1 {
		from = (filter.Page - 1) * pageSize
	}

	searchRequest := map[string]any{
		"query":            buildRecordQuery(filter),
		"sort":             []map[string]any{{"redeemed_at": map[string]any{"order": "desc"}}, {"id": map[string]any{"order": "asc"}}},
		"from":             from,
		"size":             pageSize,
		"track_total_hits": true,
	}

	body, err := json.Marshal(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{c.config.Index},
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
				Source models.RedemptionRecord `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	result := &models.RedemptionSearchResult{
		Total:   response.Hits.Total.Value,
		Records: make([]models.RedemptionRecord, len(response.Hits.Hits)),
	}
	for i, hit := range response.Hits.Hits {
		result.Records[i] = hit.Source
	}

	return result, nil
}

func buildRecordQuery(filter repository.RecordFilter) map[string]any {
	var terms []map[string]any
	if filter.TicketID != "" {
		terms = append(terms, map[string]any{"term": map[string]any{"ticket_id": filter.TicketID}})
	}
	if filter.OperatorID != "" {
		terms = append(terms, map[string]any{"term": map[string]any{"redeemed_by": filter.OperatorID}})
	}

	if len(terms) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}
	return map[string]any{"bool": map[string]any{"filter": terms}}
}

// HealthCheck проверяет состояние Elasticsearch
func (c *RedemptionIndex) HealthCheck(ctx context.Context) error {
	req := esapi.ClusterHealthRequest{
		WaitForStatus: "yellow",
		Timeout:       10 * time.Second,
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("health check error: %s", res.String())
	}

	return nil
}
