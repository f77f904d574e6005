package birthday

import (
	"fmt"
	"sync"
	"time"
)

const (
	DefaultContextCapacity  = 10
	DefaultContextStaleness = 12 * time.Hour
)

// ContextEntry is one remembered message.
type ContextEntry struct {
	Text      string
	Timestamp time.Time
}

// ContextCache keeps a short ring of recent messages per conversation so the
// classifier can tell initial wishes from follow-ups. State lives for the
// process lifetime only.
type ContextCache struct {
	mu        sync.Mutex
	capacity  int
	staleness time.Duration
	loc       *time.Location
	now       func() time.Time
	windows   map[string][]ContextEntry
}

func NewContextCache(capacity int, staleness time.Duration, loc *time.Location) *ContextCache {
	if capacity <= 0 {
		capacity = DefaultContextCapacity
	}
	if staleness <= 0 {
		staleness = DefaultContextStaleness
	}
	if loc == nil {
		loc = time.Local
	}
	return &ContextCache{
		capacity:  capacity,
		staleness: staleness,
		loc:       loc,
		now:       time.Now,
		windows:   make(map[string][]ContextEntry),
	}
}

// Append evicts stale entries, records text and trims to capacity.
func (c *ContextCache) Append(conversationID, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entries := c.evictLocked(conversationID, now)
	entries = append(entries, ContextEntry{Text: text, Timestamp: now})
	if over := len(entries) - c.capacity; over > 0 {
		entries = append([]ContextEntry(nil), entries[over:]...)
	}
	c.windows[conversationID] = entries
}

// Snapshot returns the live entries, oldest first, formatted as "[HH:MM] text".
func (c *ContextCache) Snapshot(conversationID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.evictLocked(conversationID, c.now())
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, fmt.Sprintf("[%s] %s", e.Timestamp.In(c.loc).Format("15:04"), e.Text))
	}
	return out
}

// Clear forgets a conversation's window.
func (c *ContextCache) Clear(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.windows, conversationID)
}

func (c *ContextCache) evictLocked(conversationID string, now time.Time) []ContextEntry {
	entries := c.windows[conversationID]
	cutoff := now.Add(-c.staleness)
	i := 0
	for i < len(entries) && entries[i].Timestamp.Before(cutoff) {
		i++
	}
	if i == 0 {
		return entries
	}
	entries = append([]ContextEntry(nil), entries[i:]...)
	if len(entries) == 0 {
		delete(c.windows, conversationID)
		return nil
	}
	c.windows[conversationID] = entries
	return entries
}
