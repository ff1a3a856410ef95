package app

import (
	"context"
	"errors"
	"fmt"

	"ragchat/internal/ai"
	"ragchat/internal/model"
	"ragchat/internal/platform/logger"
	"ragchat/internal/repository"
	"ragchat/internal/vectorstore"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrThreadNotFound = errors.New("thread not found")
)

// HistoryCache is the redis-backed cache of thread messages.
type HistoryCache interface {
	Get(ctx context.Context, threadID uint) ([]model.Message, bool, error)
	Set(ctx context.Context, threadID uint, messages []model.Message) error
	Invalidate(ctx context.Context, threadID uint) error
	Forget(ctx context.Context, threadID uint) error
}

// ThreadService owns thread history reads, deletion and the cleanup of
// vector-store locations nobody references any more.
type ThreadService struct {
	threads     *repository.ThreadRepository
	messages    *repository.MessageRepository
	collections *repository.CollectionRepository
	store       vectorstore.Store
	cache       HistoryCache
	log         *logger.Logger
}

func NewThreadService(
	threads *repository.ThreadRepository,
	messages *repository.MessageRepository,
	collections *repository.CollectionRepository,
	store vectorstore.Store,
	cache HistoryCache,
	log *logger.Logger,
) *ThreadService {
	if log == nil {
		log = logger.Nop()
	}
	return &ThreadService{
		threads:     threads,
		messages:    messages,
		collections: collections,
		store:       store,
		cache:       cache,
		log:         log,
	}
}

func (s *ThreadService) owned(ctx context.Context, userID, threadID uint) (*model.Thread, error) {
	if userID == 0 || threadID == 0 {
		return nil, ErrInvalidInput
	}
	thread, err := s.threads.GetByIDAndUserID(ctx, threadID, userID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, ErrThreadNotFound
	}
	return thread, nil
}

// Messages returns up to limit messages of a thread, oldest-first.
func (s *ThreadService) Messages(ctx context.Context, userID, threadID uint, limit int) ([]model.Message, error) {
	if _, err := s.owned(ctx, userID, threadID); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if cached, hit, err := s.cache.Get(ctx, threadID); err == nil && hit {
			return trimMessages(cached, limit), nil
		}
	}
	messages, err := s.messages.ListByThreadID(ctx, threadID, 0)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, threadID, messages); err != nil {
			s.log.Warn("cache thread history failed", "thread_id", threadID, "err", err)
		}
	}
	return trimMessages(messages, limit), nil
}

// LoadHistory returns the last exchanges of a thread as chat messages,
// oldest-first.
func (s *ThreadService) LoadHistory(ctx context.Context, threadID uint, exchanges int) ([]ai.ChatMessage, error) {
	recent, err := s.messages.ListRecentByThreadID(ctx, threadID, 2*exchanges)
	if err != nil {
		return nil, err
	}
	history := make([]ai.ChatMessage, 0, len(recent))
	for _, m := range recent {
		role := ai.RoleUser
		if m.Role == model.RoleAssistant {
			role = ai.RoleAssistant
		}
		history = append(history, ai.ChatMessage{Role: role, Content: m.Content})
	}
	return history, nil
}

// Delete removes a thread with its messages and, when no other thread or
// collection uses it, its vector-store location.
func (s *ThreadService) Delete(ctx context.Context, userID, threadID uint) error {
	thread, err := s.owned(ctx, userID, threadID)
	if err != nil {
		return err
	}
	if err := s.messages.DeleteByThreadID(ctx, threadID); err != nil {
		return err
	}
	if err := s.threads.DeleteByIDAndUserID(ctx, threadID, userID); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Forget(ctx, threadID); err != nil {
			s.log.Warn("forget thread history failed", "thread_id", threadID, "err", err)
		}
	}
	if thread.Loc == "" {
		return nil
	}
	referenced, err := s.referencedLocs(ctx)
	if err != nil {
		return err
	}
	if referenced[thread.Loc] {
		return nil
	}
	if err := s.store.DeleteLoc(ctx, thread.Loc); err != nil {
		return fmt.Errorf("purge thread store failed: %w", err)
	}
	return nil
}

// GarbageCollectStores deletes every stored location that no thread or
// collection references and returns the removed locations.
func (s *ThreadService) GarbageCollectStores(ctx context.Context) ([]string, error) {
	referenced, err := s.referencedLocs(ctx)
	if err != nil {
		return nil, err
	}
	locs, err := s.store.ListLocs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list store locations failed: %w", err)
	}
	var removed []string
	for _, loc := range locs {
		if referenced[loc] {
			continue
		}
		if err := s.store.DeleteLoc(ctx, loc); err != nil {
			return removed, fmt.Errorf("delete orphan store %s failed: %w", loc, err)
		}
		removed = append(removed, loc)
	}
	if len(removed) > 0 {
		s.log.Info("removed orphan vector stores", "count", len(removed))
	}
	return removed, nil
}

func (s *ThreadService) referencedLocs(ctx context.Context) (map[string]bool, error) {
	threadLocs, err := s.threads.ListLocs(ctx)
	if err != nil {
		return nil, err
	}
	collectionLocs, err := s.collections.ListLocs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(threadLocs)+len(collectionLocs))
	for _, l := range threadLocs {
		out[l] = true
	}
	for _, l := range collectionLocs {
		out[l] = true
	}
	return out, nil
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}
