package trigger

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/PaulBabatuyi/chatsync/internal/data"
	"github.com/PaulBabatuyi/chatsync/internal/db"
	"github.com/PaulBabatuyi/chatsync/internal/paths"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

func TestChangeEventToEvent(t *testing.T) {
	var ce changeEvent
	ce.Token.Data = "tok"
	ce.OperationType = "delete"
	ce.DocumentKey.ID = "chats/A/messages/B/messages/m1"
	ce.FullDocumentBeforeChange = &storedDoc{Data: data.Document{"id": "m1"}}

	ev := ce.toEvent()
	if ev.ID != "tok" || ev.Path != paths.Message("A", "B", "m1") {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Kind() != KindDelete {
		t.Fatalf("expected delete, got %s", ev.Kind())
	}

	ce.OperationType = "insert"
	ce.FullDocumentBeforeChange = nil
	ce.FullDocument = &storedDoc{}
	if ev := ce.toEvent(); ev.Kind() != KindCreate || ev.After == nil {
		t.Fatalf("expected create with empty body, got %+v", ev)
	}
}

// fakeCursor replays change events and stops once they run out or ctx ends.
type fakeCursor struct {
	events []changeEvent
	pos    int
}

func (c *fakeCursor) Next(ctx context.Context) bool {
	if ctx.Err() != nil || c.pos >= len(c.events) {
		return false
	}
	c.pos++
	return true
}

func (c *fakeCursor) Decode(val any) error {
	*val.(*changeEvent) = c.events[c.pos-1]
	return nil
}

func (c *fakeCursor) ResumeToken() bson.Raw {
	raw, _ := bson.Marshal(bson.D{{Key: "_data", Value: c.events[c.pos-1].Token.Data}})
	return bson.Raw(raw)
}

func (c *fakeCursor) Err() error { return nil }

func insertEvents(tokens ...string) []changeEvent {
	out := make([]changeEvent, 0, len(tokens))
	for _, tok := range tokens {
		var ce changeEvent
		ce.Token.Data = tok
		ce.OperationType = "insert"
		ce.DocumentKey.ID = "chats/A/messages/B/messages/" + tok
		ce.FullDocument = &storedDoc{Data: data.Document{"id": tok}}
		out = append(out, ce)
	}
	return out
}

func recordTokens(saved *[]string) func(context.Context, bson.Raw) error {
	return func(_ context.Context, token bson.Raw) error {
		*saved = append(*saved, token.Lookup("_data").StringValue())
		return nil
	}
}

func TestConsumeAdvancesPastExhaustedEvents(t *testing.T) {
	src := NewMongoSource("test", nil, nil, nil)
	cur := &fakeCursor{events: insertEvents("e1", "e2", "e3")}

	var saved []string
	err := src.consume(context.Background(), cur, func(ctx context.Context, ev Event) error {
		if ev.ID == "e2" {
			return errors.New("gave up")
		}
		return nil
	}, recordTokens(&saved))
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if len(saved) != 3 || saved[0] != "e1" || saved[1] != "e2" || saved[2] != "e3" {
		t.Fatalf("expected every position saved, got %v", saved)
	}
}

func TestConsumeDoesNotSaveEventInterruptedByShutdown(t *testing.T) {
	src := NewMongoSource("test", nil, nil, nil)
	cur := &fakeCursor{events: insertEvents("e1", "e2", "e3")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var saved []string
	var delivered []string
	err := src.consume(ctx, cur, func(ctx context.Context, ev Event) error {
		delivered = append(delivered, ev.ID)
		if ev.ID == "e2" {
			cancel()
			return ctx.Err()
		}
		return nil
	}, recordTokens(&saved))
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if len(delivered) != 2 {
		t.Fatalf("expected consume to stop at e2, delivered %v", delivered)
	}
	if len(saved) != 1 || saved[0] != "e1" {
		t.Fatalf("interrupted event must not be checkpointed, got %v", saved)
	}
}

// Change streams need a replica set, e.g. a single node started with --replSet.
func TestMongoSourceDeliversWrites(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	c, err := db.New(ctx, uri, "chatsync_trigger_test")
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}
	defer func() { _ = c.Close(context.Background()) }()

	_ = c.DocumentsCollection().Drop(ctx)
	_ = c.TriggerStateCollection().Drop(ctx)
	if err := c.EnsureCollections(ctx); err != nil {
		t.Fatalf("EnsureCollections failed: %v", err)
	}

	src := NewMongoSource("test", c.DocumentsCollection(), c.TriggerStateCollection(), zap.NewNop())
	events := make(chan Event, 4)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- src.Run(runCtx, func(ctx context.Context, ev Event) error {
			events <- ev
			return nil
		})
	}()

	store := data.NewMongoStore(c.DocumentsCollection())
	p := paths.Message("A", "B", "m1")

	// the stream opens asynchronously; keep writing until the first event shows up
	var got Event
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
wait:
	for {
		select {
		case got = <-events:
			break wait
		case <-ticker.C:
			if err := store.Set(ctx, p, data.Document{"id": "m1", "senderId": "A"}); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
		case <-ctx.Done():
			t.Fatalf("no change event received")
		}
	}
	stop()
	<-done

	if got.Path != p || got.After.String("senderId") != "A" {
		t.Fatalf("unexpected event: %+v", got)
	}

	token, err := src.loadCheckpoint(ctx)
	if err != nil || token == nil {
		t.Fatalf("expected a saved checkpoint, got %v (err %v)", token, err)
	}
}
