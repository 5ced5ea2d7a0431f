package chatsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/PaulBabatuyi/chatsync/internal/data"
	"github.com/PaulBabatuyi/chatsync/internal/notify"
	"github.com/PaulBabatuyi/chatsync/internal/paths"
	"github.com/PaulBabatuyi/chatsync/internal/trigger"

	"go.uber.org/zap"
)

// Register wires the synchronizer's handlers into r.
func (s *Synchronizer) Register(r *trigger.Router) {
	r.Handle("sync_message", paths.MessagePattern, s.HandleMessageWrite)
	r.Handle("conversation_updated", paths.ConversationPattern, s.HandleConversationUpdate, trigger.KindUpdate)
	r.Handle("conversation_deleted", paths.ConversationPattern, s.HandleConversationDelete, trigger.KindDelete)
}

// HandleConversationUpdate tells the owner's devices that the summary of
// chats/{ownerId}/conversations/{mateId} changed. It never fails.
func (s *Synchronizer) HandleConversationUpdate(ctx context.Context, ev trigger.Event) error {
	owner, mate := ev.Param("ownerId"), ev.Param("mateId")
	tokens := s.tokensOf(ctx, owner)
	if len(tokens) == 0 {
		s.log.Debug("owner has no device token", zap.String("owner", owner))
		return nil
	}
	s.notifier.NotifyConversationChange(ctx, tokens, mate, notify.OperationUpdate)
	return nil
}

// HandleConversationDelete drops the owner's message history and unread
// counter for a conversation whose summary was deleted, then tells the
// owner's devices. Nothing is removed if a summary exists again by the time
// the event is handled.
func (s *Synchronizer) HandleConversationDelete(ctx context.Context, ev trigger.Event) error {
	owner, mate := ev.Param("ownerId"), ev.Param("mateId")
	log := s.log.With(zap.String("event_id", ev.ID), zap.String("owner", owner), zap.String("mate", mate))

	convPath := paths.Conversation(owner, mate)
	_, err := s.store.Get(ctx, convPath)
	switch {
	case err == nil:
		log.Info("conversation recreated, skipping cleanup")
		s.skip("conversation_recreated")
		return nil
	case !errors.Is(err, data.ErrNotFound):
		return fmt.Errorf("read conversation %s: %w", convPath, err)
	}

	n, err := s.store.DeleteCollection(ctx, paths.Messages(owner, mate))
	if err != nil {
		return fmt.Errorf("delete messages of %s with %s: %w", owner, mate, err)
	}
	if n > 0 {
		s.wrote(docMessage, "delete")
	}
	if err := s.remove(ctx, docUnreadCount, paths.UnreadCount(owner, mate)); err != nil {
		return err
	}
	log.Info("conversation cleaned up", zap.Int64("messages", n))

	s.notifier.NotifyConversationChange(ctx, s.tokensOf(ctx, owner), mate, notify.OperationDelete)
	return nil
}
