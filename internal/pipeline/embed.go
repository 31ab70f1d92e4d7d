package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"horse.fit/mediatrends/internal/db"
)

const (
	DefaultEmbeddingEndpoint       = "http://127.0.0.1:8844/embed"
	DefaultEmbeddingModelName      = "paraphrase-multilingual-mpnet-base-v2"
	DefaultEmbeddingBatchSize      = 50
	DefaultEmbeddingMaxLength      = 512
	DefaultEmbeddingRequestTimeout = 45 * time.Second
	DefaultEmbeddingDimensions     = 768

	keywordEmbeddingTemplate = "News article about %s"
	maxArticleEmbeddingRunes = 4000
)

var errZeroVector = errors.New("embedding vector has zero norm")

type EmbedOptions struct {
	Limit          int
	BatchSize      int
	Endpoint       string
	ModelName      string
	MaxLength      int
	Dimensions     int
	RequestTimeout time.Duration
}

type EmbedResult struct {
	Processed int `json:"processed"`
	Embedded  int `json:"embedded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (r *EmbedResult) add(other EmbedResult) {
	r.Processed += other.Processed
	r.Embedded += other.Embedded
	r.Skipped += other.Skipped
	r.Failed += other.Failed
}

type embedRequest struct {
	Texts     []string `json:"texts,omitempty"`
	Input     []string `json:"input,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	ElapsedMS  *float64    `json:"elapsed_ms"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

type embedTarget struct {
	label  string
	list   func(ctx context.Context, limit int) ([]db.PendingEmbedding, error)
	input  func(row db.PendingEmbedding) string
	insert func(ctx context.Context, id int64, vectorLiteral string, latencyMS *int) (bool, error)
}

// EmbedPending embeds the oldest articles without a vector, then every active
// keyword without one. A vector that is rejected (zero norm, wrong size) only
// fails its own row; a service outage fails the stage.
func (s *Service) EmbedPending(ctx context.Context, limit int) (EmbedResult, error) {
	if s == nil || s.store == nil {
		return EmbedResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	if limit <= 0 {
		limit = s.opts.Limit
	}

	targets := []embedTarget{
		{
			label: "article",
			list:  s.store.ListArticlesPendingEmbedding,
			input: articleEmbeddingInput,
			insert: func(ctx context.Context, id int64, vectorLiteral string, latencyMS *int) (bool, error) {
				return s.store.InsertArticleEmbedding(ctx, id, s.opts.ModelName, vectorLiteral, latencyMS)
			},
		},
		{
			label: "keyword",
			list:  s.store.ListKeywordsPendingEmbedding,
			input: func(row db.PendingEmbedding) string { return KeywordEmbeddingInput(row.Title) },
			insert: func(ctx context.Context, id int64, vectorLiteral string, _ *int) (bool, error) {
				return s.store.InsertKeywordEmbedding(ctx, id, s.opts.ModelName, vectorLiteral)
			},
		},
	}

	var total EmbedResult
	for _, target := range targets {
		result, err := s.embedTarget(ctx, target, limit)
		total.add(result)
		if err != nil {
			return total, err
		}
	}

	s.logger.Info().
		Int("processed", total.Processed).
		Int("embedded", total.Embedded).
		Int("skipped", total.Skipped).
		Int("failed", total.Failed).
		Msg("embed stage finished")
	return total, nil
}

// EmbedKeyword stores the vector of one keyword right after it is added.
func (s *Service) EmbedKeyword(ctx context.Context, keywordID int64, canonical string) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("pipeline service is not initialized")
	}
	vectors, _, err := requestEmbeddings(ctx, s.opts, []string{KeywordEmbeddingInput(canonical)})
	if err != nil {
		return err
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embedding response count mismatch: requested=1 returned=%d", len(vectors))
	}
	literal, err := toVectorLiteral(vectors[0], s.opts.Dimensions)
	if err != nil {
		return fmt.Errorf("keyword_id=%d invalid embedding vector: %w", keywordID, err)
	}
	_, err = s.store.InsertKeywordEmbedding(ctx, keywordID, s.opts.ModelName, literal)
	return err
}

func (s *Service) embedTarget(ctx context.Context, target embedTarget, limit int) (EmbedResult, error) {
	var result EmbedResult
	// rows that failed stay pending, so they must not be fetched again in this run
	failed := map[int64]struct{}{}

	for result.Processed < limit {
		batchSize := min(s.opts.BatchSize, limit-result.Processed)
		rows, err := target.list(ctx, batchSize+len(failed))
		if err != nil {
			return result, err
		}
		pending := rows[:0]
		for _, row := range rows {
			if _, skip := failed[row.ID]; !skip {
				pending = append(pending, row)
			}
		}
		if len(pending) == 0 {
			break
		}
		if len(pending) > batchSize {
			pending = pending[:batchSize]
		}

		texts := make([]string, 0, len(pending))
		for _, row := range pending {
			texts = append(texts, target.input(row))
		}

		vectors, elapsed, err := requestEmbeddings(ctx, s.opts, texts)
		if err != nil {
			return result, err
		}
		if len(vectors) != len(pending) {
			return result, fmt.Errorf("embedding response count mismatch: requested=%d returned=%d", len(pending), len(vectors))
		}
		latency := perItemLatency(elapsed, len(pending))

		for i, row := range pending {
			result.Processed++

			literal, err := toVectorLiteral(vectors[i], s.opts.Dimensions)
			if err != nil {
				result.Failed++
				failed[row.ID] = struct{}{}
				s.logger.Warn().Err(err).Str("kind", target.label).Int64("id", row.ID).Msg("embedding rejected")
				continue
			}

			inserted, err := target.insert(ctx, row.ID, literal, latency)
			if err != nil {
				result.Failed++
				return result, err
			}
			if inserted {
				result.Embedded++
			} else {
				result.Skipped++
			}
		}
	}
	return result, nil
}

// KeywordEmbeddingInput puts a keyword into a news context so its vector lands
// near articles about it rather than near the bare term.
func KeywordEmbeddingInput(canonical string) string {
	return fmt.Sprintf(keywordEmbeddingTemplate, strings.TrimSpace(canonical))
}

func articleEmbeddingInput(row db.PendingEmbedding) string {
	title := strings.TrimSpace(row.Title)
	body := strings.TrimSpace(row.Text)
	var text string
	switch {
	case body == "":
		text = title
	case title == "":
		text = body
	default:
		text = title + "\n\n" + body
	}
	runes := []rune(text)
	if len(runes) > maxArticleEmbeddingRunes {
		text = string(runes[:maxArticleEmbeddingRunes])
	}
	return text
}

func perItemLatency(elapsedMS *float64, items int) *int {
	if elapsedMS == nil || items <= 0 {
		return nil
	}
	value := int(math.Round(*elapsedMS / float64(items)))
	return &value
}

func normalizeEmbedOptions(opts EmbedOptions) EmbedOptions {
	normalized := opts
	if normalized.Limit <= 0 {
		normalized.Limit = DefaultEmbeddingBatchSize
	}
	if normalized.BatchSize <= 0 {
		normalized.BatchSize = DefaultEmbeddingBatchSize
	}
	normalized.Endpoint = normalizeEmbeddingEndpoint(normalized.Endpoint)
	if strings.TrimSpace(normalized.ModelName) == "" {
		normalized.ModelName = DefaultEmbeddingModelName
	}
	if normalized.MaxLength <= 0 {
		normalized.MaxLength = DefaultEmbeddingMaxLength
	}
	if normalized.Dimensions <= 0 {
		normalized.Dimensions = DefaultEmbeddingDimensions
	}
	if normalized.RequestTimeout <= 0 {
		normalized.RequestTimeout = DefaultEmbeddingRequestTimeout
	}
	return normalized
}

func requestEmbeddings(ctx context.Context, opts EmbedOptions, texts []string) ([][]float64, *float64, error) {
	payload := embedRequest{
		Texts:     texts,
		MaxLength: opts.MaxLength,
	}

	parsedEndpoint, err := url.Parse(opts.Endpoint)
	if err == nil && strings.HasSuffix(parsedEndpoint.Path, "/v1/embeddings") {
		payload = embedRequest{
			Input: texts,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("embedding service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, nil, fmt.Errorf("decode embedding response: %w", err)
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Data) > 0 {
		sort.Slice(parsed.Data, func(i, j int) bool {
			return parsed.Data[i].Index < parsed.Data[j].Index
		})
		vectors = make([][]float64, 0, len(parsed.Data))
		for _, row := range parsed.Data {
			vectors = append(vectors, row.Embedding)
		}
	}
	if len(vectors) == 0 {
		return nil, parsed.ElapsedMS, fmt.Errorf("embedding response missing vectors")
	}

	return vectors, parsed.ElapsedMS, nil
}

func normalizeEmbeddingEndpoint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultEmbeddingEndpoint
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/embed"
	}
	return parsed.String()
}

// toVectorLiteral renders a pgvector literal. Zero vectors are rejected since
// cosine similarity against them is undefined.
func toVectorLiteral(values []float64, dimensions int) (string, error) {
	if len(values) != dimensions {
		return "", fmt.Errorf("expected %d dimensions, got %d", dimensions, len(values))
	}

	var (
		builder strings.Builder
		norm    float64
	)
	builder.Grow(len(values) * 8)
	builder.WriteByte('[')
	for i, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return "", fmt.Errorf("vector has non-finite value at index %d", i)
		}
		norm += value * value
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(value, 'f', -1, 64))
	}
	if norm == 0 {
		return "", errZeroVector
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
