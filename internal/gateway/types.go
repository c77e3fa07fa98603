package gateway

import (
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/ledger"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/pool"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/router"
)

// Operation names, used for cache keys, the credit cost table and metrics.
const (
	OpGenerateText     = "generate_text"
	OpComputeEmbedding = "compute_embedding"
	OpSemanticSearch   = "semantic_search"
	OpAnalyzeSentiment = "analyze_sentiment"
	OpRunQuery         = "run_query"
)

// TextRequest asks the backend to complete a prompt.
type TextRequest struct {
	Prompt   string          `json:"prompt"`
	Model    string          `json:"model,omitempty"`
	Workload router.Workload `json:"-"`
}

// EmbedRequest asks the backend to embed a text.
type EmbedRequest struct {
	Text     string          `json:"text"`
	Model    string          `json:"model,omitempty"`
	Workload router.Workload `json:"-"`
}

// SearchRequest asks the backend for a semantic search over a corpus.
type SearchRequest struct {
	Query  string `json:"query"`
	Corpus string `json:"corpus"`
	TopK   int    `json:"top_k"`
}

// SearchResult is one semantic search hit.
type SearchResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

// QueryRequest asks the backend to execute SQL.
type QueryRequest struct {
	SQL      string          `json:"sql"`
	Workload router.Workload `json:"-"`
}

// RowSet is the result of a query.
type RowSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Health is the gateway's health report.
type Health struct {
	Direct          string                `json:"direct"`
	Relay           string                `json:"relay"`
	CreditRemaining float64               `json:"credit_remaining"`
	CircuitStates   map[string]string     `json:"circuit_states"`
	Pools           map[string]pool.Stats `json:"pools"`
	Window          ledger.Snapshot       `json:"credit_window"`
}

// Backend result payload shapes, shared by both transports.

type textResult struct {
	Text string `json:"text"`
}

type embedResult struct {
	Vector []float64 `json:"vector"`
}

type searchResults struct {
	Results []SearchResult `json:"results"`
}

type sentimentResult struct {
	Score float64 `json:"score"`
}
