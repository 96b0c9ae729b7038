package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// GenesisHash links the first entry of every chain.
var GenesisHash = strings.Repeat("0", 64)

// LogEntry is one link of the audit chain.
type LogEntry struct {
	Sequence     uint64          `json:"sequence"`
	Timestamp    string          `json:"timestamp"`
	Action       string          `json:"action"`
	PreviousHash string          `json:"previous_hash"`
	Payload      json.RawMessage `json:"payload"`
	Hash         string          `json:"hash"`
}

// ChainLogger appends hash-chained entries. Each entry commits to the one
// before it, so editing or dropping an entry breaks verification.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	sequence     uint64
	out          io.Writer
	entries      []*LogEntry
	retain       int
	now          func() time.Time
}

// Option configures a ChainLogger.
type Option func(*ChainLogger)

// WithWriter streams every entry to w as a JSON line.
func WithWriter(w io.Writer) Option {
	return func(c *ChainLogger) { c.out = w }
}

// WithRetention keeps the last n entries in memory for Entries. Zero keeps none.
func WithRetention(n int) Option {
	return func(c *ChainLogger) { c.retain = n }
}

// NewChainLogger creates a ChainLogger starting from GenesisHash.
func NewChainLogger(opts ...Option) *ChainLogger {
	c := &ChainLogger{
		previousHash: GenesisHash,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append marshals payload and links it to the chain.
func (c *ChainLogger) Append(action string, payload any) (*LogEntry, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &LogEntry{
		Sequence:     c.sequence + 1,
		Timestamp:    c.now().UTC().Format(time.RFC3339Nano),
		Action:       action,
		PreviousHash: c.previousHash,
		Payload:      body,
	}
	entry.Hash = entryHash(entry.PreviousHash, entry)

	if c.out != nil {
		line, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal audit entry: %w", err)
		}
		if _, err := c.out.Write(append(line, '\n')); err != nil {
			return nil, fmt.Errorf("failed to write audit entry: %w", err)
		}
	}

	c.sequence = entry.Sequence
	c.previousHash = entry.Hash
	if c.retain > 0 {
		c.entries = append(c.entries, entry)
		if len(c.entries) > c.retain {
			c.entries = c.entries[len(c.entries)-c.retain:]
		}
	}
	return entry, nil
}

// Head returns the hash of the latest entry.
func (c *ChainLogger) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previousHash
}

// Entries returns a copy of the retained entries, oldest first.
func (c *ChainLogger) Entries() []*LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*LogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

func entryHash(prevHash string, e *LogEntry) string {
	hashInput := fmt.Sprintf("%s|%d|%s|%s|%s", prevHash, e.Sequence, e.Timestamp, e.Action, e.Payload)
	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// VerifyChain checks that entries form an unbroken chain. It returns the index
// of the first bad entry, or -1 when the chain is intact.
func VerifyChain(entries []*LogEntry) int {
	for i, entry := range entries {
		prevHash := entry.PreviousHash
		if i > 0 {
			prevHash = entries[i-1].Hash
			if entry.PreviousHash != prevHash || entry.Sequence != entries[i-1].Sequence+1 {
				return i
			}
		}

		if entryHash(prevHash, entry) != entry.Hash {
			return i
		}
	}
	return -1
}
