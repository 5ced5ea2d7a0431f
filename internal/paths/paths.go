// Package paths builds and matches the hierarchical document paths shared by
// every component: user profiles, conversation summaries, mirrored messages
// and unread counters.
package paths

import (
	"strings"

	"github.com/PaulBabatuyi/chatsync/internal/normalize"
)

// Path patterns understood by the trigger router. Segments in braces are
// captured as params.
const (
	ConversationPattern = "chats/{ownerId}/conversations/{mateId}"
	MessagePattern      = "chats/{ownerId}/messages/{mateId}/messages/{messageId}"
)

// Doc is the full path of a single document, e.g. "chats/A/conversations/B".
type Doc string

// Collection is the path of a collection of documents, e.g.
// "chats/A/messages/B/messages".
type Collection string

// Parent returns the collection the document belongs to.
func (d Doc) Parent() Collection {
	i := strings.LastIndex(string(d), "/")
	if i < 0 {
		return ""
	}
	return Collection(d[:i])
}

// ID returns the last segment of the document path.
func (d Doc) ID() string {
	i := strings.LastIndex(string(d), "/")
	return string(d[i+1:])
}

// Valid reports whether the path has an even number of non-empty segments.
func (d Doc) Valid() bool {
	segs := strings.Split(string(d), "/")
	if len(segs) < 2 || len(segs)%2 != 0 {
		return false
	}
	for _, s := range segs {
		if s == "" {
			return false
		}
	}
	return true
}

func (d Doc) String() string { return string(d) }

// Doc returns the path of the document id inside the collection.
func (c Collection) Doc(id string) Doc {
	return Doc(string(c) + "/" + normalize.Segment(id))
}

func (c Collection) String() string { return string(c) }

// User returns users/{userId}.
func User(userID string) Doc {
	return Collection("users").Doc(userID)
}

// Conversation returns chats/{ownerId}/conversations/{mateId}.
func Conversation(ownerID, mateID string) Doc {
	return Collection("chats/" + normalize.Segment(ownerID) + "/conversations").Doc(mateID)
}

// Messages returns chats/{ownerId}/messages/{mateId}/messages.
func Messages(ownerID, mateID string) Collection {
	return Collection("chats/" + normalize.Segment(ownerID) + "/messages/" + normalize.Segment(mateID) + "/messages")
}

// Message returns chats/{ownerId}/messages/{mateId}/messages/{messageId}.
func Message(ownerID, mateID, messageID string) Doc {
	return Messages(ownerID, mateID).Doc(messageID)
}

// UnreadCount returns chats/{ownerId}/unread-count/{mateId}.
func UnreadCount(ownerID, mateID string) Doc {
	return Collection("chats/" + normalize.Segment(ownerID) + "/unread-count").Doc(mateID)
}

// Match reports whether path fits pattern and returns the captured params.
func Match(pattern, path string) (map[string]string, bool) {
	ps := strings.Split(pattern, "/")
	segs := strings.Split(path, "/")
	if len(ps) != len(segs) {
		return nil, false
	}
	params := make(map[string]string)
	for i, p := range ps {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			if segs[i] == "" {
				return nil, false
			}
			params[p[1:len(p)-1]] = segs[i]
			continue
		}
		if p != segs[i] {
			return nil, false
		}
	}
	return params, true
}
