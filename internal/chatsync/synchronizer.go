// Package chatsync keeps the derived chat documents in step with message
// writes: each side's conversation summary, the receiver's mirrored copy of
// the message and the receiver's unread counter. It also sends the push
// notifications those changes imply.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/chatsync/internal/data"
	"github.com/PaulBabatuyi/chatsync/internal/idempotency"
	"github.com/PaulBabatuyi/chatsync/internal/metrics"
	"github.com/PaulBabatuyi/chatsync/internal/notify"
	"github.com/PaulBabatuyi/chatsync/internal/paths"
	"github.com/PaulBabatuyi/chatsync/internal/trigger"

	"go.uber.org/zap"
)

// MateLookup fetches user profiles. data.ProfilesStore implements it.
type MateLookup interface {
	GetMate(ctx context.Context, userID string) (data.Profile, error)
}

// Notifier sends push notifications without reporting failures.
// notify.Dispatcher implements it.
type Notifier interface {
	NotifyConversationChange(ctx context.Context, tokens []string, mateID string, op notify.Operation)
	NotifyNewMessage(ctx context.Context, tokens []string, senderID string, msg data.Message)
}

// DefaultReplayTTL is how long a counted message stays in the ledger.
const DefaultReplayTTL = 7 * 24 * time.Hour

// Document kinds used as metric labels.
const (
	docConversation = "conversation"
	docMessage      = "message"
	docUnreadCount  = "unread_count"
)

// Synchronizer reconciles conversation summaries and unread counters.
// It is the only writer of those documents. Every handler is safe to run
// again for the same event.
type Synchronizer struct {
	store     data.Store
	mates     MateLookup
	notifier  Notifier
	ledger    idempotency.Ledger
	replayTTL time.Duration
	log       *zap.Logger
	metrics   *metrics.Metrics // optional
}

// New returns a Synchronizer. A nil ledger falls back to an in-process one
// and a zero replayTTL to DefaultReplayTTL.
func New(store data.Store, mates MateLookup, notifier Notifier, ledger idempotency.Ledger, replayTTL time.Duration, log *zap.Logger, m *metrics.Metrics) *Synchronizer {
	if ledger == nil {
		ledger = idempotency.NewMemoryLedger()
	}
	if replayTTL <= 0 {
		replayTTL = DefaultReplayTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{
		store:     store,
		mates:     mates,
		notifier:  notifier,
		ledger:    ledger,
		replayTTL: replayTTL,
		log:       log,
		metrics:   m,
	}
}

// HandleMessageWrite reacts to a write on
// chats/{ownerId}/messages/{mateId}/messages/{messageId}. Store failures are
// returned so the event is redelivered; notification failures are not.
func (s *Synchronizer) HandleMessageWrite(ctx context.Context, ev trigger.Event) error {
	switch ev.Kind() {
	case trigger.KindNoop:
		return nil
	case trigger.KindDelete:
		return s.messageDeleted(ctx, ev)
	default:
		return s.messageWritten(ctx, ev)
	}
}

func (s *Synchronizer) messageDeleted(ctx context.Context, ev trigger.Event) error {
	owner := ev.Param("ownerId")
	msg := data.Message(ev.Before)
	messageID := msg.ID()
	if messageID == "" {
		messageID = ev.Param("messageId")
	}
	mate := otherParty(owner, msg)
	if mate == "" {
		mate = ev.Param("mateId")
	}
	log := s.log.With(zap.String("event_id", ev.ID), zap.String("owner", owner), zap.String("mate", mate), zap.String("message_id", messageID))

	convPath := paths.Conversation(owner, mate)
	summary, err := s.store.Get(ctx, convPath)
	if err != nil && !errors.Is(err, data.ErrNotFound) {
		return fmt.Errorf("read conversation %s: %w", convPath, err)
	}

	var newest []data.Document
	if summary != nil && summary.String(data.FieldID) == messageID {
		newest, err = s.store.Latest(ctx, paths.Messages(owner, mate), data.FieldTimeSent, 1)
		if err != nil {
			return fmt.Errorf("query latest message: %w", err)
		}
	}

	var op notify.Operation
	switch planDelete(summary, messageID, newest) {
	case keepSummary:
		log.Debug("deleted message is not the conversation summary")
		s.skip("summary_unaffected")
		return nil
	case removeSummary:
		log.Info("no messages left, deleting conversation")
		if err := s.remove(ctx, docConversation, convPath); err != nil {
			return err
		}
		op = notify.OperationDelete
	case rebuildSummary:
		latest := data.Message(newest[0])
		conv := data.NewConversation(latest, mate, s.lookupMate(ctx, mate))
		if err := s.set(ctx, docConversation, convPath, conv); err != nil {
			return err
		}
		log.Info("conversation rebuilt from previous message", zap.String("latest_id", latest.ID()))
		op = notify.OperationUpdate
	}

	// refresh the owner's other sessions
	s.notifier.NotifyConversationChange(ctx, s.tokensOf(ctx, owner), mate, op)
	return nil
}

func (s *Synchronizer) messageWritten(ctx context.Context, ev trigger.Event) error {
	owner := ev.Param("ownerId")
	msg := data.Message(ev.After)
	if msg.ID() == "" {
		// the summary id must always name its message
		msg = data.Message(data.Document(msg).Clone())
		msg[data.FieldID] = ev.Param("messageId")
	}
	sender, receiver := msg.SenderID(), msg.ReceiverID()
	log := s.log.With(zap.String("event_id", ev.ID), zap.String("owner", owner), zap.String("message_id", msg.ID()))

	if owner != sender {
		// the mirrored copy this synchronizer wrote for the receiver
		log.Info("data sender differs from context sender, skipping", zap.String("sender", sender))
		s.skip("mirrored_write")
		return nil
	}
	if receiver == "" {
		log.Warn("message has no receiver, skipping")
		s.skip("missing_receiver")
		return nil
	}
	log = log.With(zap.String("mate", receiver))

	receiverProfile := s.lookupMate(ctx, receiver)
	senderProfile := s.lookupMate(ctx, sender)

	if err := s.set(ctx, docConversation, paths.Conversation(sender, receiver), data.NewConversation(msg, receiver, receiverProfile)); err != nil {
		return err
	}
	if err := s.set(ctx, docMessage, paths.Message(receiver, sender, msg.ID()), data.Document(msg.WithoutRouting())); err != nil {
		return err
	}
	if err := s.set(ctx, docConversation, paths.Conversation(receiver, sender), data.NewConversation(msg.WithoutRouting(), sender, senderProfile)); err != nil {
		return err
	}

	if isEdit(ev.Before, ev.After) {
		log.Debug("message edited, unread count unchanged")
	} else if err := s.countUnread(ctx, log, receiver, sender, msg.ID()); err != nil {
		return err
	}

	if token := receiverProfile.FCMToken(); token != "" {
		s.notifier.NotifyNewMessage(ctx, []string{token}, sender, msg)
	}
	return nil
}

// countUnread increments the receiver's counter once per message. The ledger
// claim makes a redelivered create a no-op; a failed write gives the claim
// back so the redelivery can count it.
func (s *Synchronizer) countUnread(ctx context.Context, log *zap.Logger, receiver, sender, messageID string) error {
	key := unreadClaimKey(receiver, sender, messageID)
	claimed, err := s.ledger.Claim(ctx, key, s.replayTTL)
	if err != nil {
		return fmt.Errorf("claim %s: %w", key, err)
	}
	if !claimed {
		log.Info("message already counted")
		s.skip("replay")
		return nil
	}

	counterPath := paths.UnreadCount(receiver, sender)
	counter, err := s.store.Get(ctx, counterPath)
	if err != nil && !errors.Is(err, data.ErrNotFound) {
		s.release(ctx, log, key)
		return fmt.Errorf("read unread count %s: %w", counterPath, err)
	}

	n := nextUnreadCount(counter)
	if err := s.set(ctx, docUnreadCount, counterPath, data.NewUnreadCount(n)); err != nil {
		s.release(ctx, log, key)
		return err
	}
	log.Debug("unread count updated", zap.Int64("count", n))
	return nil
}

// release gives a claim back. It runs even when ctx was cancelled, since a
// cancellation is often what failed the write.
func (s *Synchronizer) release(ctx context.Context, log *zap.Logger, key string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.ledger.Release(rctx, key); err != nil {
		log.Warn("release ledger claim", zap.String("key", key), zap.Error(err))
	}
}

// lookupMate returns the profile of userID or nil. A missing profile only
// means the summary carries no mate snapshot.
func (s *Synchronizer) lookupMate(ctx context.Context, userID string) data.Profile {
	p, err := s.mates.GetMate(ctx, userID)
	switch {
	case errors.Is(err, data.ErrNotFound):
		s.log.Debug("profile not found", zap.String("user", userID))
		return nil
	case err != nil:
		s.log.Warn("profile lookup failed", zap.String("user", userID), zap.Error(err))
		return nil
	}
	return p
}

// tokensOf returns the device tokens of userID, possibly none.
func (s *Synchronizer) tokensOf(ctx context.Context, userID string) []string {
	if token := s.lookupMate(ctx, userID).FCMToken(); token != "" {
		return []string{token}
	}
	return nil
}

func (s *Synchronizer) set(ctx context.Context, kind string, path paths.Doc, doc data.Document) error {
	if err := s.store.Set(ctx, path, doc); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	s.wrote(kind, "set")
	return nil
}

func (s *Synchronizer) remove(ctx context.Context, kind string, path paths.Doc) error {
	if err := s.store.Delete(ctx, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	s.wrote(kind, "delete")
	return nil
}

func (s *Synchronizer) wrote(kind, op string) {
	if s.metrics != nil {
		s.metrics.Writes.WithLabelValues(kind, op).Inc()
	}
}

func (s *Synchronizer) skip(reason string) {
	if s.metrics != nil {
		s.metrics.Skipped.WithLabelValues(reason).Inc()
	}
}
