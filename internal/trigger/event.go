// Package trigger turns document writes into handler invocations: events
// arrive from a Source, are matched against path patterns by a Router and
// are retried by a Runner until they succeed or run out of attempts.
package trigger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/PaulBabatuyi/chatsync/internal/data"
	"github.com/PaulBabatuyi/chatsync/internal/paths"
)

// Kind classifies a document state transition.
type Kind int

const (
	KindNoop Kind = iota
	KindCreate
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	}
	return "noop"
}

// Event is one observed write to the document at Path. Before is nil on
// create, After is nil on delete.
type Event struct {
	ID     string
	Path   paths.Doc
	Params map[string]string // captured by the matching route pattern
	Before data.Document
	After  data.Document
}

// Kind derives the transition from the presence of Before and After.
func (e Event) Kind() Kind {
	switch {
	case e.Before == nil && e.After != nil:
		return KindCreate
	case e.Before != nil && e.After != nil:
		return KindUpdate
	case e.Before != nil && e.After == nil:
		return KindDelete
	}
	return KindNoop
}

// Param returns a path parameter captured by the route.
func (e Event) Param(name string) string {
	return e.Params[name]
}

// wireEvent is the JSON shape of events published to the broker.
type wireEvent struct {
	ID     string        `json:"id"`
	Path   string        `json:"path"`
	Before data.Document `json:"before"`
	After  data.Document `json:"after"`
}

// DecodeEvent parses a JSON-encoded event.
func DecodeEvent(b []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	p := paths.Doc(w.Path)
	if !p.Valid() {
		return Event{}, fmt.Errorf("decode event: %w: %q", data.ErrInvalidPath, w.Path)
	}
	return Event{ID: w.ID, Path: p, Before: w.Before, After: w.After}, nil
}

// EncodeEvent is the inverse of DecodeEvent.
func EncodeEvent(e Event) ([]byte, error) {
	if !e.Path.Valid() {
		return nil, errors.New("encode event: invalid path")
	}
	return json.Marshal(wireEvent{ID: e.ID, Path: e.Path.String(), Before: e.Before, After: e.After})
}
