package events

import (
	"encoding/json"
	"testing"
)

type recorder struct{ types []string }

func (r *recorder) Emit(typ string, _ any) { r.types = append(r.types, typ) }

func TestHubDeliversEvents(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	h.Emit(TypeStatus, map[string]string{"status": "connected"})

	var e Event
	if err := json.Unmarshal([]byte(<-ch), &e); err != nil {
		t.Fatal(err)
	}
	if e.Type != TypeStatus || e.Version != 1 || string(e.Data) != `{"status":"connected"}` {
		t.Fatalf("event = %+v", e)
	}
}

func TestHubDropsForSlowClients(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	for i := 0; i < 50; i++ {
		h.Publish("x")
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffered = %d, want %d", len(ch), cap(ch))
	}
	h.Unsubscribe(ch)
	h.Unsubscribe(ch)
	if h.Clients() != 0 {
		t.Fatalf("clients = %d", h.Clients())
	}
}

func TestFanout(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Fanout{a, nil, b, Nop{}}.Emit(TypePostingNew, nil)
	if len(a.types) != 1 || len(b.types) != 1 {
		t.Fatalf("a=%v b=%v", a.types, b.types)
	}
}
