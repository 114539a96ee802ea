// Package session holds the per-conversation state: the bounded
// question/answer turn log and its periodic persistence.
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/candorvoice/candor/pkg/provider/llm"
)

const (
	// DefaultMaxTurns is the ceiling on retained conversation turns.
	DefaultMaxTurns = 20

	// keepOpening is how many leading turns pruning always preserves. The
	// opening exchange anchors the rest of the conversation.
	keepOpening = 2
)

// Turn is one entry in the conversation log. Every assistant turn shares
// its id with the user turn it answers.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Context is the bounded ordered log of conversation turns. Appending past
// the ceiling prunes the middle: the first two turns and the most recent
// window survive, trading recency against opening context.
//
// All methods are safe for concurrent use.
type Context struct {
	maxTurns int

	mu    sync.Mutex
	turns []Turn
}

// NewContext creates a Context holding at most maxTurns turns. A maxTurns
// of zero or less uses DefaultMaxTurns.
func NewContext(maxTurns int) *Context {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Context{maxTurns: maxTurns}
}

// Append adds a turn to the log, then prunes if the ceiling is exceeded.
func (c *Context) Append(t Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, t)
	c.prune()
}

// prune enforces the turn ceiling: keep the first keepOpening turns plus
// the most recent maxTurns-keepOpening, discarding the middle. Must be
// called with c.mu held.
func (c *Context) prune() {
	if len(c.turns) <= c.maxTurns {
		return
	}
	recent := c.maxTurns - keepOpening
	pruned := make([]Turn, 0, c.maxTurns)
	pruned = append(pruned, c.turns[:keepOpening]...)
	pruned = append(pruned, c.turns[len(c.turns)-recent:]...)
	c.turns = pruned
}

// Snapshot returns a copy of the current turn sequence, oldest first.
func (c *Context) Snapshot() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// LastN returns a copy of the most recent n turns, oldest first.
func (c *Context) LastN(n int) []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.turns) {
		n = len(c.turns)
	}
	out := make([]Turn, n)
	copy(out, c.turns[len(c.turns)-n:])
	return out
}

// Len returns the number of retained turns.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// RemoveAssistant deletes the assistant turn with the given id, if present.
// Regeneration removes the old answer first so the id is never duplicated
// in the log.
func (c *Context) RemoveAssistant(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.turns {
		if t.ID == id && t.Role == llm.RoleAssistant {
			c.turns = append(c.turns[:i], c.turns[i+1:]...)
			return
		}
	}
}

// Clear drops every turn.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
}

// Restore replaces the log with the given turns, pruning if they exceed
// the ceiling.
func (c *Context) Restore(turns []Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = make([]Turn, len(turns))
	copy(c.turns, turns)
	c.prune()
}

// export is the JSON document produced by Export and consumed by Import.
type export struct {
	Turns      []Turn    `json:"turns"`
	ExportedAt time.Time `json:"exportedAt"`
}

// Export serializes the conversation for download or transfer. Importing
// the result reproduces identical turn ordering and ids.
func (c *Context) Export() ([]byte, error) {
	doc := export{Turns: c.Snapshot(), ExportedAt: time.Now()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("session: export context: %w", err)
	}
	return data, nil
}

// Import replaces the conversation with a previously exported document.
func (c *Context) Import(data []byte) error {
	var doc export
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("session: import context: %w", err)
	}
	c.Restore(doc.Turns)
	return nil
}
