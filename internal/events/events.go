// Package events publishes a summary of every completed embed or extract job.
// The hidden text itself is never part of an event.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind is the job type.
type Kind string

const (
	KindEmbed   Kind = "embed"
	KindExtract Kind = "extract"
)

// Event describes one finished job.
type Event struct {
	ID           uuid.UUID `json:"id"`
	Kind         Kind      `json:"kind"`
	Source       string    `json:"source"` // "http", "ipc" or "cli"
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	PayloadBytes int       `json:"payload_bytes"`
	Found        bool      `json:"found,omitempty"`
	Truncated    bool      `json:"truncated,omitempty"`
	Error        string    `json:"error,omitempty"`
	DurationMS   float64   `json:"duration_ms"`
	At           time.Time `json:"at"`
}

// ToJSON marshals the event for the wire.
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) error { return nil }
func (Nop) Close() error        { return nil }
