package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/docgraph-ai/docgraph/pkg/types"
)

const maxErrorBodyBytes = 1024

// 点ID命名空间，保证 chunk_uid 到点ID的映射全局稳定
var pointIDNamespaceUUID = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

type Config struct {
	URL     string `toml:"url"`
	APIKey  string `toml:"api_key"`
	Timeout int    `toml:"timeout"` // seconds, 0 uses the default
	// WriteRate limits upsert/delete calls per second, 0 disables limiting
	WriteRate float64 `toml:"write_rate"`
}

type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type searchResultItem struct {
	ID      json.RawMessage    `json:"id"`
	Score   float64            `json:"score"`
	Payload types.PointPayload `json:"payload"`
}

func New(cfg Config) *Client {
	timeout := 10 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	var limiter *rate.Limiter
	if cfg.WriteRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.WriteRate), 1)
	}

	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// PointID maps chunkUID to a stable qdrant point id.
func PointID(chunkUID string) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(chunkUID)).String()
}

// Ready reports whether the qdrant endpoint answers.
func (s *Client) Ready(ctx context.Context) error {
	return s.doJSON(ctx, "ready", http.MethodGet, "/readyz", nil, nil)
}

// EnsureCollection creates the collection and its payload indexes when
// missing. Existing collections are left untouched.
func (s *Client) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	const op = "ensure_collection"

	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := s.doJSON(ctx, op, http.MethodGet, "/collections/"+collection, nil, &info)
	if err == nil {
		if info.Config.Params.Vectors.Size != 0 && info.Config.Params.Vectors.Size != vectorSize {
			return &OperationError{
				Code:      OperationErrorValidation,
				Operation: op,
				Message:   fmt.Sprintf("collection %q vector size mismatch: expected=%d actual=%d", collection, vectorSize, info.Config.Params.Vectors.Size),
			}
		}
		return nil
	}
	var opErrValue *OperationError
	if !errors.As(err, &opErrValue) || opErrValue.StatusCode != http.StatusNotFound {
		return err
	}

	createBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	if err := s.doJSON(ctx, op, http.MethodPut, "/collections/"+collection, createBody, nil); err != nil {
		return err
	}

	for field, schema := range map[string]string{
		"chunk_uid":           "keyword",
		"document_id":         "keyword",
		"document_version_id": "keyword",
		"version":             "integer",
	} {
		indexBody := map[string]any{
			"field_name":   field,
			"field_schema": schema,
		}
		if err := s.doJSON(ctx, op, http.MethodPut, "/collections/"+collection+"/index?wait=true", indexBody, nil); err != nil {
			return err
		}
	}

	slog.Info("qdrant collection created",
		slog.String("collection", collection),
		slog.Int("vector_size", vectorSize))
	return nil
}

// EnsureAlias points alias at collection, replacing any previous target.
func (s *Client) EnsureAlias(ctx context.Context, alias, collection string) error {
	body := map[string]any{
		"actions": []map[string]any{
			{"delete_alias": map[string]any{"alias_name": alias}},
			{"create_alias": map[string]any{"alias_name": alias, "collection_name": collection}},
		},
	}
	// delete of an unknown alias is tolerated by qdrant when batched
	return s.doJSON(ctx, "ensure_alias", http.MethodPost, "/collections/aliases", body, nil)
}

func (s *Client) DeleteCollection(ctx context.Context, collection string) error {
	return s.doJSON(ctx, "delete_collection", http.MethodDelete, "/collections/"+collection, nil, nil)
}

// Upsert writes points with insert-or-replace semantics.
func (s *Client) Upsert(ctx context.Context, collection string, points []types.VectorPoint) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}

	body := map[string]any{"points": make([]map[string]any, 0, len(points))}
	for _, p := range points {
		if p.ID == "" || len(p.Vector) == 0 {
			return &OperationError{
				Code:      OperationErrorValidation,
				Operation: op,
				Message:   fmt.Sprintf("point %q is missing id or vector", p.Payload.ChunkUID),
			}
		}
		body["points"] = append(body["points"].([]map[string]any), map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		})
	}

	return s.withWriteRetry(ctx, func() error {
		return s.doJSON(ctx, op, http.MethodPut, "/collections/"+collection+"/points?wait=true", body, nil)
	})
}

// Search runs a similarity query and returns matches sorted by score.
func (s *Client) Search(ctx context.Context, collection string, vector []float32, topK int) ([]types.VectorMatch, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}

	var items []searchResultItem
	if err := s.doJSON(ctx, "search", http.MethodPost, "/collections/"+collection+"/points/search", body, &items); err != nil {
		return nil, err
	}

	matches := make([]types.VectorMatch, 0, len(items))
	for _, item := range items {
		if item.Payload.ChunkUID == "" {
			continue
		}
		matches = append(matches, types.VectorMatch{
			ChunkUID:   item.Payload.ChunkUID,
			DocumentID: item.Payload.DocumentID,
			Score:      float32(item.Score),
		})
	}
	return matches, nil
}

// DeleteOldVersions removes every point of documentID whose version is
// below keepVersion. Safe to run repeatedly.
func (s *Client) DeleteOldVersions(ctx context.Context, collection, documentID string, keepVersion int) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{"key": "document_id", "match": map[string]any{"value": documentID}},
				{"key": "version", "range": map[string]any{"lt": keepVersion}},
			},
		},
	}

	return s.withWriteRetry(ctx, func() error {
		return s.doJSON(ctx, "delete_old_versions", http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", body, nil)
	})
}

// withWriteRetry retries transient failures with backoff, honoring the
// configured write rate limit before each attempt.
func (s *Client) withWriteRetry(ctx context.Context, fn func() error) error {
	return retry.Do(
		func() error {
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					return retry.Unrecoverable(err)
				}
			}
			return fn()
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
	)
}

func (s *Client) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opError(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return opError(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opError(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return opError(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(env.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return opError(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opError(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opError(op, OperationErrorTimeout, message, err)
	}
	return opError(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil && strings.TrimSpace(statusObject.Error) != "" {
		return strings.TrimSpace(statusObject.Error)
	}
	return fmt.Sprintf("qdrant status=%s", truncateBody(raw))
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "...(truncated)"
}
