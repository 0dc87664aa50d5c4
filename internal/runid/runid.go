// Package runid generates sortable, time-derived run identifiers.
package runid

import (
	"fmt"

	"github.com/google/uuid"

	"sitechat/internal/rag"
)

const timeLayout = "20060102_150405"

// Generator creates run ids of the form 20250901_142501_9f3a: a sortable
// second-resolution timestamp plus a random suffix so concurrent starts in
// the same second still get unique ids.
type Generator struct {
	clock rag.Clock
}

// New constructs a Generator backed by the given clock.
func New(clock rag.Clock) *Generator {
	return &Generator{clock: clock}
}

// NewRunID returns a fresh run identifier.
func (g *Generator) NewRunID() string {
	ts := g.clock.Now().UTC().Format(timeLayout)
	suffix := uuid.NewString()[:4]
	return fmt.Sprintf("%s_%s", ts, suffix)
}
