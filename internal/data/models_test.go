package data

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestNewConversationStripsToken(t *testing.T) {
	msg := Message{"id": "m1", "senderId": "A", "receiverId": "B", "body": "hi", "timeSent": 100}
	mate := Profile{"name": "Bea", "fcmToken": "tok-B"}

	conv := NewConversation(msg, "B", mate)

	if conv.String(FieldID) != "m1" {
		t.Fatalf("conversation id must equal message id, got %q", conv.String(FieldID))
	}
	if conv.String(FieldMateID) != "B" {
		t.Fatalf("mateId mismatch: %q", conv.String(FieldMateID))
	}
	embedded, ok := ConversationMate(conv)
	if !ok {
		t.Fatalf("expected embedded mate profile")
	}
	if _, has := embedded[FieldFCMToken]; has {
		t.Fatalf("embedded profile must not carry fcmToken: %v", embedded)
	}
	if embedded["name"] != "Bea" {
		t.Fatalf("profile fields should be preserved: %v", embedded)
	}

	// source profile and message are left untouched
	if mate.FCMToken() != "tok-B" {
		t.Fatalf("source profile was mutated")
	}
	if _, has := msg[FieldMateID]; has {
		t.Fatalf("source message was mutated")
	}
}

func TestNewConversationWithoutMate(t *testing.T) {
	conv := NewConversation(Message{"id": "m1", "mate": map[string]any{"x": 1}}, "B", nil)
	if _, has := conv[FieldMate]; has {
		t.Fatalf("missing profile should not be embedded: %v", conv)
	}
}

func TestWithoutRouting(t *testing.T) {
	msg := Message{"id": "m1", "mateId": "B", "mate": map[string]any{"name": "Bea"}, "extra": true}
	out := msg.WithoutRouting()
	if _, has := out[FieldMateID]; has {
		t.Fatalf("mateId not stripped")
	}
	if _, has := out[FieldMate]; has {
		t.Fatalf("mate not stripped")
	}
	if out["extra"] != true {
		t.Fatalf("payload fields must survive: %v", out)
	}
	if _, has := msg[FieldMateID]; !has {
		t.Fatalf("original message was mutated")
	}
}

func TestUnreadCount(t *testing.T) {
	if got := UnreadCount(nil); got != 0 {
		t.Fatalf("missing counter = %d", got)
	}
	if got := UnreadCount(Document{"count": int32(4)}); got != 4 {
		t.Fatalf("int32 counter = %d", got)
	}
	if got := UnreadCount(Document{"count": float64(2)}); got != 2 {
		t.Fatalf("float counter = %d", got)
	}
	if got := UnreadCount(Document{"count": -3}); got != 0 {
		t.Fatalf("negative counter must clamp to 0, got %d", got)
	}
}

func TestCompareValues(t *testing.T) {
	now := time.Now()
	cases := []struct {
		a, b any
		want int
	}{
		{100, int64(50), 1},
		{float64(1.5), int32(2), -1},
		{"b", "a", 1},
		{now, now.Add(time.Second), -1},
		{bson.NewDateTimeFromTime(now.Add(time.Minute)), now, 1},
		{nil, 1, -1},
		{int64(7), 7.0, 0},
	}
	for _, c := range cases {
		got := compareValues(c.a, c.b)
		if (got > 0) != (c.want > 0) || (got < 0) != (c.want < 0) {
			t.Fatalf("compareValues(%v, %v) = %d, want sign of %d", c.a, c.b, got, c.want)
		}
	}
}
