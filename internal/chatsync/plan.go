package chatsync

import (
	"fmt"

	"github.com/PaulBabatuyi/chatsync/internal/data"
)

// otherParty returns the mate of owner in the conversation msg belongs to.
func otherParty(owner string, msg data.Message) string {
	if owner == msg.SenderID() {
		return msg.ReceiverID()
	}
	return msg.SenderID()
}

// isEdit reports whether the write changed an existing message in place.
// Edits never count as unread.
func isEdit(before, after data.Document) bool {
	if before == nil || after == nil {
		return false
	}
	return before.String(data.FieldID) == after.String(data.FieldID)
}

// nextUnreadCount is the counter value after one more unread message.
func nextUnreadCount(counter data.Document) int64 {
	return data.UnreadCount(counter) + 1
}

// unreadClaimKey names the ledger entry guarding one counter increment.
func unreadClaimKey(receiver, sender, messageID string) string {
	return fmt.Sprintf("unread:%s:%s:%s", receiver, sender, messageID)
}

// summaryAction is what a message deletion does to the owner's summary.
type summaryAction int

const (
	keepSummary    summaryAction = iota // summary absent or showing another message
	removeSummary                       // no messages left
	rebuildSummary                      // show the newest remaining message
)

// planDelete decides the summary update after deletedID was removed.
// summary is nil when the owner has none; newest holds at most one message,
// the newest still stored.
func planDelete(summary data.Document, deletedID string, newest []data.Document) summaryAction {
	if summary == nil || summary.String(data.FieldID) != deletedID {
		return keepSummary
	}
	if len(newest) == 0 {
		return removeSummary
	}
	return rebuildSummary
}
