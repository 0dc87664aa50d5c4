// Package rag defines core types shared across subsystems.
package rag

import "time"

// RunStatus represents the lifecycle state of an indexing run.
type RunStatus string

// Run status values held in the registry. StatusNotFound is a query-time
// sentinel returned for unknown ids and is never stored.
const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusNotFound  RunStatus = "not_found"
)

// Terminal reports whether the status is a final one.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RunParams captures the immutable parameters fixed when a run is created.
type RunParams struct {
	StartURL string `json:"start_url"`
	MaxDepth int    `json:"max_depth"`
	MaxPages int    `json:"max_pages"`
}

// Progress tracks which pipeline stage a run has reached.
type Progress struct {
	Step        string `json:"step"`
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
}

// Run is the registry record for one crawl-and-index job.
type Run struct {
	ID         string     `json:"run_id"`
	Status     RunStatus  `json:"status"`
	Params     RunParams  `json:"params"`
	SiteName   string     `json:"site_name"`
	Collection string     `json:"collection"`
	Progress   Progress   `json:"progress"`
	Logs       []string   `json:"logs"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
}

// RunSummary is the condensed form returned by history listings.
type RunSummary struct {
	ID        string     `json:"run_id"`
	Status    RunStatus  `json:"status"`
	SiteName  string     `json:"site_name"`
	StartURL  string     `json:"start_url"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// Page is one extracted page emitted by the content extractor.
type Page struct {
	URL   string
	Title string
	Text  string
	Depth int
}

// PageResult wraps a Page with the fetch error, if any. Failed fetches are
// per-page events, not stream aborts.
type PageResult struct {
	Page Page
	Err  error
}

// Chunk is the indexed unit: a passage of one page plus position metadata.
type Chunk struct {
	ID    string
	URL   string
	Title string
	Text  string
	Index int
}

// ChunkRecord pairs a chunk with its embedding for upsert.
type ChunkRecord struct {
	Chunk
	Embedding []float32
}

// ScoredChunk is a similarity-search candidate with its raw vector score.
type ScoredChunk struct {
	Chunk
	Score float64
}

// Source attributes part of an answer to an indexed page.
type Source struct {
	URL   string  `json:"url"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// Answer is the result of a scoped retrieval-augmented query.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// QueueItem wraps a created run ready for an executor to pick up.
type QueueItem struct {
	RunID     string
	Params    RunParams
	Submitted int64
}

// ServerStatus is the read-only capability report exposed by the API.
type ServerStatus struct {
	VectorStoreConfigured bool     `json:"vector_store_configured"`
	LLMConfigured         bool     `json:"llm_configured"`
	Collections           []string `json:"collections"`
}
