package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/gateway"
	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/router"
)

// maxBodySize bounds an inbound request body (8MB).
const maxBodySize = 8 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.gw.HealthCheck(r.Context())
	status := http.StatusOK
	if h.Direct != "up" && h.Relay != "up" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleUsageRecent(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "usage journal is not enabled")
		return
	}
	n := 50
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "n must be between 1 and 1000")
			return
		}
		n = parsed
	}
	events, err := s.journal.Recent(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading usage journal failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleGenerateText(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt   string `json:"prompt"`
		Model    string `json:"model"`
		Workload string `json:"workload"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	text, err := s.gw.GenerateText(r.Context(), gateway.TextRequest{
		Prompt:   body.Prompt,
		Model:    body.Model,
		Workload: router.Workload(body.Workload),
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text     string `json:"text"`
		Model    string `json:"model"`
		Workload string `json:"workload"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	vec, err := s.gw.ComputeEmbedding(r.Context(), gateway.EmbedRequest{
		Text:     body.Text,
		Model:    body.Model,
		Workload: router.Workload(body.Workload),
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vector": vec})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body gateway.SearchRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Query == "" || body.Corpus == "" {
		writeError(w, http.StatusBadRequest, "query and corpus are required")
		return
	}
	if body.TopK <= 0 {
		body.TopK = 10
	}
	results, err := s.gw.SemanticSearch(r.Context(), body)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	score, err := s.gw.AnalyzeSentiment(r.Context(), body.Text)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"score": score})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SQL      string `json:"sql"`
		Workload string `json:"workload"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.SQL == "" {
		writeError(w, http.StatusBadRequest, "sql is required")
		return
	}
	rows, err := s.gw.RunQuery(r.Context(), gateway.QueryRequest{
		SQL:      body.SQL,
		Workload: router.Workload(body.Workload),
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// decodeBody parses a JSON body, writing a 400 and returning false on
// failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
