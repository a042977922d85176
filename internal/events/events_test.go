package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_ToJSON(t *testing.T) {
	e := Event{
		ID:           uuid.New(),
		Kind:         KindExtract,
		Source:       "ipc",
		Width:        640,
		Height:       480,
		PayloadBytes: 12,
		Found:        true,
		DurationMS:   1.5,
		At:           time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := e.ToJSON()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, e.ID.String(), m["id"])
	assert.Equal(t, "extract", m["kind"])
	assert.Equal(t, true, m["found"])
	assert.NotContains(t, m, "truncated")
	assert.NotContains(t, m, "error")
	assert.Equal(t, "2026-01-02T03:04:05Z", m["at"])
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(Event{}))
	assert.NoError(t, p.Close())
}

func TestMQTTPublisher_NotConnected(t *testing.T) {
	p := NewMQTTPublisher(MQTTConfig{Broker: "127.0.0.1:1", Topic: "t", ClientID: "test"}, zerolog.Nop())

	err := p.Publish(Event{ID: uuid.New(), Kind: KindEmbed})
	assert.Error(t, err)
	assert.Equal(t, Stats{Errors: 1}, p.Stats())
	assert.NoError(t, p.Close())
}
