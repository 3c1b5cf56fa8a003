// Package executor dispatches one workflow node to the collaborator that
// matches its kind: LLM, tool, human approval, or MCP tool call (§4.3).
package executor

import "github.com/loomwork/loom/internal/pending"

// pendingTable is a type alias so the rest of this package can keep using
// its own short name for the shared correlation table also used by
// internal/mcp's transports (Design Note §9).
type pendingTable[K comparable, V any] = pending.Table[K, V]

func newPendingTable[K comparable, V any]() *pendingTable[K, V] {
	return pending.New[K, V]()
}
