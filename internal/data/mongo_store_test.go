package data

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/PaulBabatuyi/chatsync/internal/db"
	"github.com/PaulBabatuyi/chatsync/internal/paths"
)

func setupDB(t *testing.T) *db.Client {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	c, err := db.New(ctx, uri, "chatsync_data_test")
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}

	// ensure clean collections in case previous runs left data
	_ = c.DocumentsCollection().Drop(ctx)
	if err := c.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}
	return c
}

func TestMongoStoreRoundTrip(t *testing.T) {
	c := setupDB(t)
	defer func() { _ = c.Close(context.Background()) }()

	ctx := context.Background()
	s := NewMongoStore(c.DocumentsCollection())
	p := paths.Conversation("A", "B")

	if _, err := s.Get(ctx, p); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	conv := NewConversation(Message{"id": "m1", "body": "hi", "timeSent": int64(100)}, "B", Profile{"name": "Bea", "fcmToken": "t"})
	if err := s.Set(ctx, p, conv); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(ctx, p)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.String(FieldID) != "m1" {
		t.Fatalf("unexpected id %q", got.String(FieldID))
	}
	mate, ok := ConversationMate(got)
	if !ok || mate["name"] != "Bea" {
		t.Fatalf("embedded mate not decoded: %v", got[FieldMate])
	}

	if err := s.Delete(ctx, p); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, p); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMongoStoreLatest(t *testing.T) {
	c := setupDB(t)
	defer func() { _ = c.Close(context.Background()) }()

	ctx := context.Background()
	s := NewMongoStore(c.DocumentsCollection())

	for id, ts := range map[string]int64{"m1": 100, "m2": 200, "m3": 300} {
		if err := s.Set(ctx, paths.Message("A", "B", id), Document{"id": id, "timeSent": ts}); err != nil {
			t.Fatalf("Set %s failed: %v", id, err)
		}
	}

	docs, err := s.Latest(ctx, paths.Messages("A", "B"), FieldTimeSent, 1)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if len(docs) != 1 || docs[0].String(FieldID) != "m3" {
		t.Fatalf("expected m3, got %v", docs)
	}

	n, err := s.DeleteCollection(ctx, paths.Messages("A", "B"))
	if err != nil || n != 3 {
		t.Fatalf("DeleteCollection = %d, %v", n, err)
	}
}
