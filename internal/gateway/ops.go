package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/router"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/transport"
)

// GenerateText completes a prompt on the backend's text model.
func (g *Gateway) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	raw, err := g.execute(ctx, OpGenerateText, req.Workload, req, req.Prompt)
	if err != nil {
		return "", err
	}
	var out textResult
	if err := decodeResult(OpGenerateText, raw, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// ComputeEmbedding embeds a text into a vector.
func (g *Gateway) ComputeEmbedding(ctx context.Context, req EmbedRequest) ([]float64, error) {
	raw, err := g.execute(ctx, OpComputeEmbedding, req.Workload, req, req.Text)
	if err != nil {
		return nil, err
	}
	var out embedResult
	if err := decodeResult(OpComputeEmbedding, raw, &out); err != nil {
		return nil, err
	}
	return out.Vector, nil
}

// SemanticSearch runs a vector search over a named corpus. Always routed as
// AI inference work.
func (g *Gateway) SemanticSearch(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	raw, err := g.execute(ctx, OpSemanticSearch, router.WorkloadAIInference, req, req.Query)
	if err != nil {
		return nil, err
	}
	var out searchResults
	if err := decodeResult(OpSemanticSearch, raw, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// AnalyzeSentiment scores a text in [-1, 1]. Always routed as AI inference
// work.
func (g *Gateway) AnalyzeSentiment(ctx context.Context, text string) (float64, error) {
	req := struct {
		Text string `json:"text"`
	}{Text: text}

	raw, err := g.execute(ctx, OpAnalyzeSentiment, router.WorkloadAIInference, req, text)
	if err != nil {
		return 0, err
	}
	var out sentimentResult
	if err := decodeResult(OpAnalyzeSentiment, raw, &out); err != nil {
		return 0, err
	}
	return out.Score, nil
}

// RunQuery executes SQL on a warehouse. The reservation is an estimate from
// the statement text; the commit settles at the backend-reported cost.
func (g *Gateway) RunQuery(ctx context.Context, req QueryRequest) (RowSet, error) {
	raw, err := g.execute(ctx, OpRunQuery, req.Workload, req, req.SQL)
	if err != nil {
		return RowSet{}, err
	}
	var out RowSet
	if err := decodeResult(OpRunQuery, raw, &out); err != nil {
		return RowSet{}, err
	}
	return out, nil
}

// decodeResult unmarshals a backend result payload. A payload that does not
// match the expected shape is a validation failure, not a transport one.
func decodeResult(op string, raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return opError(op, "", 0,
			fmt.Errorf("%w: decoding %s result: %w", transport.ErrValidation, op, err))
	}
	return nil
}
