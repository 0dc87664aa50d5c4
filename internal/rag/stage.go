package rag

// Stage enumerates the fixed pipeline stages of a run. Each variant carries
// its own display name so progress reporting never indexes an unchecked table.
type Stage int

// Pipeline stages, in execution order.
const (
	StageInitialize Stage = iota
	StageStorageSetup
	StageCrawlIndex
)

// TotalSteps is fixed for every run.
const TotalSteps = 3

// Step returns the zero-based progress step for the stage.
func (s Stage) Step() int {
	return int(s)
}

// Name returns the human-readable step label stored in run progress.
func (s Stage) Name() string {
	switch s {
	case StageInitialize:
		return "starting"
	case StageStorageSetup:
		return "setting up vector storage"
	case StageCrawlIndex:
		return "crawling and indexing"
	default:
		return "unknown"
	}
}

// Description returns the longer form used in run logs.
func (s Stage) Description() string {
	switch s {
	case StageInitialize:
		return "validate parameters and prepare the run"
	case StageStorageSetup:
		return "create or reuse the run's vector collection"
	case StageCrawlIndex:
		return "crawl the site and index page chunks"
	default:
		return "unknown stage"
	}
}
