// Package data provides document models and stores.
package data

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Field names shared by messages, conversation summaries, profiles and counters.
const (
	FieldID         = "id"
	FieldSenderID   = "senderId"
	FieldReceiverID = "receiverId"
	FieldBody       = "body"
	FieldTimeSent   = "timeSent"
	FieldMateID     = "mateId"
	FieldMate       = "mate"
	FieldFCMToken   = "fcmToken"
	FieldCount      = "count"
)

// Document is the schemaless body of a stored document. Messages carry
// arbitrary client payload fields, so documents are kept as maps rather than
// fixed structs.
type Document map[string]any

// String returns the field as a string ("" when absent or nil).
func (d Document) String(key string) string {
	v, ok := d[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int64 returns the numeric field as an int64.
func (d Document) Int64(key string) (int64, bool) {
	switch n := d[key].(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	}
	return 0, false
}

// Clone returns a deep copy so callers can mutate the result freely.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case bson.M:
		return bson.M(Document(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case bson.A:
		out := make(bson.A, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	}
	return v
}

// asDocument converts the map shapes a decoder may produce into a Document.
func asDocument(v any) (Document, bool) {
	switch t := v.(type) {
	case Document:
		return t, true
	case map[string]any:
		return Document(t), true
	case bson.M:
		return Document(t), true
	case bson.D:
		out := make(Document, len(t))
		for _, e := range t {
			out[e.Key] = e.Value
		}
		return out, true
	}
	return nil, false
}

// Message is a chat message document: id, senderId, receiverId, body,
// timeSent plus whatever else the client stored.
type Message Document

func (m Message) ID() string         { return Document(m).String(FieldID) }
func (m Message) SenderID() string   { return Document(m).String(FieldSenderID) }
func (m Message) ReceiverID() string { return Document(m).String(FieldReceiverID) }
func (m Message) Body() string       { return Document(m).String(FieldBody) }

// WithoutRouting returns a copy with the conversation-only fields (mateId,
// mate) removed, ready to be mirrored into the receiver's message path.
func (m Message) WithoutRouting() Message {
	out := Document(m).Clone()
	delete(out, FieldMateID)
	delete(out, FieldMate)
	return Message(out)
}

// Profile is a user profile document stored at users/{userId}.
type Profile Document

// FCMToken returns the push token or "" when the user has none.
func (p Profile) FCMToken() string { return Document(p).String(FieldFCMToken) }

// Redacted returns a copy of the profile without its device token.
func (p Profile) Redacted() Profile {
	if p == nil {
		return nil
	}
	out := Document(p).Clone()
	delete(out, FieldFCMToken)
	return Profile(out)
}

// NewConversation builds the conversation summary representing msg for the
// owner talking to mateID. The summary id is the message id; the embedded
// mate profile never carries a device token.
func NewConversation(msg Message, mateID string, mate Profile) Document {
	conv := Document(msg).Clone()
	conv[FieldMateID] = mateID
	if mate != nil {
		conv[FieldMate] = map[string]any(mate.Redacted())
	} else {
		delete(conv, FieldMate)
	}
	return conv
}

// ConversationMate returns the profile embedded in a conversation summary.
func ConversationMate(conv Document) (Profile, bool) {
	d, ok := asDocument(conv[FieldMate])
	return Profile(d), ok
}

// UnreadCount returns the stored counter value (0 for a missing document).
func UnreadCount(doc Document) int64 {
	n, _ := doc.Int64(FieldCount)
	if n < 0 {
		return 0
	}
	return n
}

// NewUnreadCount builds the counter document body.
func NewUnreadCount(n int64) Document {
	return Document{FieldCount: n}
}

// compareValues orders two timeSent values. Numbers compare numerically,
// timestamps chronologically, strings lexically; nil sorts first and values
// of different kinds are ranked by kind.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
	case 2:
		sa, sb := a.(string), b.(string)
		switch {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
	case 3:
		return toTime(a).Compare(toTime(b))
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int, int32, int64, float32, float64:
		return 1
	case string:
		return 2
	case time.Time, bson.DateTime:
		return 3
	}
	return 4
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case bson.DateTime:
		return t.Time()
	}
	return time.Time{}
}
