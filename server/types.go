package server

import (
	"Pivot/internal/generation"
	"Pivot/internal/pipeline"
	"Pivot/internal/transcript"
	"Pivot/internal/translate"
	"Pivot/internal/vectordb"
)

// TurnRequest is the body of POST /v1/turn.
type TurnRequest struct {
	System    string `json:"system"`
	User      string `json:"user"`
	Translate *bool  `json:"translate,omitempty"`
	RAG       *bool  `json:"rag,omitempty"`
	Stream    bool   `json:"stream,omitempty"`
}

// TurnEvent is one NDJSON line of a streamed turn. Token events carry Stage
// and Token; a stage end carries Stage, Done and Stats; the last line has
// Done and Result (or Error) with no Stage.
type TurnEvent struct {
	Stage    string               `json:"stage,omitempty"`
	Token    string               `json:"token,omitempty"`
	Done     bool                 `json:"done,omitempty"`
	Kind     string               `json:"kind,omitempty"`
	Degraded bool                 `json:"degraded,omitempty"`
	Stats    *generation.Stats    `json:"stats,omitempty"`
	Result   *pipeline.TurnResult `json:"result,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// TranslateRequest is the body of POST /v1/translate.
type TranslateRequest struct {
	Text      string `json:"text"`
	Direction string `json:"direction"`
	RAG       *bool  `json:"rag,omitempty"`
}

// TranslateResponse wraps the translation result.
type TranslateResponse struct {
	Result translate.Result `json:"result"`
}

// SearchRequest is the body of POST /v1/search.
type SearchRequest struct {
	Query     string   `json:"query"`
	PageCount *int     `json:"page_count,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// SearchResponse lists ranked passages.
type SearchResponse struct {
	Results []vectordb.Result `json:"results"`
}

// HistoryResponse lists recorded turns, newest first.
type HistoryResponse struct {
	Turns []transcript.TurnRecord `json:"turns"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Backend   string `json:"backend,omitempty"`
	Uptime    string `json:"uptime"`
	IndexSize int    `json:"index_size"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
