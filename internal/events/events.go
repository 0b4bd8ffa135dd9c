package events

import (
	"encoding/json"
	"time"
)

const (
	TypePostingNew   = "posting.new"
	TypeRunCompleted = "run.completed"
	TypeSourceHealth = "source.health"
	TypeStatus       = "status"
)

type Event struct {
	Type      string          `json:"type"`
	Version   int             `json:"v"`
	At        time.Time       `json:"at"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func MakeEvent(reqID, typ string, v int, data any) string {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	e := Event{
		Type:      typ,
		Version:   v,
		At:        time.Now().UTC(),
		RequestID: reqID,
		Data:      raw,
	}
	b, _ := json.Marshal(e)
	return string(b)
}

// Sink receives engine events. Emit must not block on slow consumers.
type Sink interface {
	Emit(typ string, data any)
}

// Fanout emits to every sink in order.
type Fanout []Sink

func (f Fanout) Emit(typ string, data any) {
	for _, s := range f {
		if s != nil {
			s.Emit(typ, data)
		}
	}
}

type Nop struct{}

func (Nop) Emit(string, any) {}
