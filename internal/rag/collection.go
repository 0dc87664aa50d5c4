package rag

import "strings"

// CollectionName derives the vector-store collection bound to a run. The
// transform is deterministic and collision-free for distinct run ids: a fixed
// prefix plus the id with every character outside [a-z0-9_] mapped to '_'.
func CollectionName(runID string) string {
	var b strings.Builder
	b.WriteString("run_")
	for _, r := range strings.ToLower(runID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
