package stream

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
)

// NDJSON writes one JSON document per line and flushes after each line when
// the destination supports it. Safe for concurrent use; lines are written in
// the order Send is called.
type NDJSON struct {
	mu  sync.Mutex
	w   io.Writer
	fl  http.Flusher
	err error
}

func NewNDJSON(w io.Writer) *NDJSON {
	fl, _ := w.(http.Flusher)
	return &NDJSON{w: w, fl: fl}
}

// Send writes v as a single line. After the first write error every later
// call is a no-op returning that error, so a gone client does not stop the
// producer.
func (n *NDJSON) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	b = append(b, '\n')
	if _, err := n.w.Write(b); err != nil {
		n.err = err
		return err
	}
	if n.fl != nil {
		n.fl.Flush()
	}
	return nil
}

// Emit implements Sink.
func (n *NDJSON) Emit(e Event) { _ = n.Send(e) }

// Err returns the first write error, if any.
func (n *NDJSON) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// SetHeaders prepares an HTTP response for NDJSON streaming.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "application/x-ndjson")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Accel-Buffering", "no") // disable nginx proxy buffering
}

// Recorder collects events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType filters recorded events by type.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent event, or a zero Event.
func (r *Recorder) Last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}
	}
	return r.events[len(r.events)-1]
}
