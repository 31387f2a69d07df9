package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/supporthub/livechat-backend/internal/domain"
	"github.com/supporthub/livechat-backend/internal/events"
	"github.com/supporthub/livechat-backend/internal/ws"
)

// MessageStore methods for the shared fake.

func (s *fakeEngineStore) CreateMessage(_ context.Context, _ *gorm.DB, chatID string, senderID *string, senderName, content string, system bool) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := domain.Message{
		ID:              uuid.NewString(),
		ChatID:          chatID,
		SenderID:        senderID,
		SenderName:      senderName,
		Content:         content,
		IsSystemMessage: system,
		CreatedAt:       time.Now().UTC(),
	}
	s.messages = append(s.messages, m)
	cp := m
	return &cp, nil
}

func (s *fakeEngineStore) CountMessages(_ context.Context, _ *gorm.DB, chatID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.ChatID == chatID {
			n++
		}
	}
	return n, nil
}

func (s *fakeEngineStore) ListMessagesPage(_ context.Context, _ *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func newTestMessageService(t *testing.T, store *fakeEngineStore) (*MessageService, *fakeNotifier, *fakePublisher) {
	t.Helper()
	n := &fakeNotifier{}
	pub := &fakePublisher{}
	return NewMessageService(newSvcDB(t), store, n, pub), n, pub
}

func TestPost_EmptyContent(t *testing.T) {
	store := newFakeEngineStore()
	store.addChat(waitingChat("c1", "d1"))
	svc, _, _ := newTestMessageService(t, store)

	for _, content := range []string{"", "   ", "\t\n"} {
		if _, err := svc.Post(context.Background(), "c1", nil, "Ada", content); !errors.Is(err, ErrEmptyContent) {
			t.Fatalf("Post(%q): want ErrEmptyContent, got %v", content, err)
		}
	}
}

func TestPost_UnknownChat(t *testing.T) {
	store := newFakeEngineStore()
	svc, _, _ := newTestMessageService(t, store)
	if _, err := svc.Post(context.Background(), "ghost", nil, "Ada", "hi"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("want ErrChatNotFound, got %v", err)
	}
}

func TestPost_ClosedChat(t *testing.T) {
	store := newFakeEngineStore()
	c := waitingChat("c1", "d1")
	c.Status = domain.ChatClosed
	store.addChat(c)
	svc, _, _ := newTestMessageService(t, store)

	if _, err := svc.Post(context.Background(), "c1", nil, "Ada", "hi"); !errors.Is(err, ErrChatClosed) {
		t.Fatalf("want ErrChatClosed, got %v", err)
	}
}

func TestPost_PersistsBroadcastsAndPublishes(t *testing.T) {
	store := newFakeEngineStore()
	store.addChat(waitingChat("c1", "d1"))
	svc, n, pub := newTestMessageService(t, store)

	sender := "agent-1"
	msg, err := svc.Post(context.Background(), "c1", &sender, "Alice", "  how can I help?  ")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if msg.Content != "how can I help?" {
		t.Fatalf("content not trimmed: %q", msg.Content)
	}
	if msg.SenderID == nil || *msg.SenderID != "agent-1" {
		t.Fatalf("sender lost: %v", msg.SenderID)
	}

	last, ok := n.lastBroadcast()
	if !ok || last.target != "c1" {
		t.Fatalf("message not broadcast: %+v", n.broadcasts)
	}
	frame, ok := last.evt.(ws.ChatMessage)
	if !ok {
		t.Fatalf("frame = %T; want ChatMessage", last.evt)
	}
	if frame.Content != "how can I help?" || frame.SenderName != "Alice" || frame.IsSystemMessage {
		t.Fatalf("frame wrong: %+v", frame)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) != 1 || pub.events[0].topic != events.TopicChatMessages || pub.events[0].chatID != "c1" {
		t.Fatalf("stream event wrong: %+v", pub.events)
	}
}

func TestPost_ClipsOversizedContent(t *testing.T) {
	store := newFakeEngineStore()
	store.addChat(waitingChat("c1", "d1"))
	svc, _, _ := newTestMessageService(t, store)
	svc.MaxContentRunes = 5

	msg, err := svc.Post(context.Background(), "c1", nil, "Ada", "☃☃☃☃☃☃☃")
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got := len([]rune(msg.Content)); got != 5 {
		t.Fatalf("clip kept %d runes; want 5", got)
	}
}

func TestMessageListPage_UnknownChatAndPaging(t *testing.T) {
	store := newFakeEngineStore()
	store.addChat(waitingChat("c1", "d1"))
	svc, _, _ := newTestMessageService(t, store)

	if _, _, err := svc.ListPage(context.Background(), "ghost", 1, 10); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("want ErrChatNotFound, got %v", err)
	}

	items, total, err := svc.ListPage(context.Background(), "c1", 1, 10)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("empty transcript: total=%d items=%d err=%v", total, len(items), err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.Post(context.Background(), "c1", nil, "Ada", "msg "+strings.Repeat("x", i+1)); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	items, total, err = svc.ListPage(context.Background(), "c1", 2, 2)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 3 || len(items) != 1 {
		t.Fatalf("second page: total=%d items=%d", total, len(items))
	}
	if items[0].Content != "msg xxx" {
		t.Fatalf("wrong tail item: %q", items[0].Content)
	}
}

func TestMessageSearch_UnknownChatAndRanking(t *testing.T) {
	store := newFakeEngineStore()
	store.addChat(waitingChat("c1", "d1"))
	svc, _, _ := newTestMessageService(t, store)
	ctx := context.Background()

	if _, err := svc.Search(ctx, "ghost", "refund", 5); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("want ErrChatNotFound, got %v", err)
	}

	// Empty transcript matches nothing.
	if res, err := svc.Search(ctx, "c1", "refund", 5); err != nil || res != nil {
		t.Fatalf("empty transcript: res=%v err=%v", res, err)
	}

	for _, content := range []string{
		"my refund is missing",
		"refund",
		"shipping update",
	} {
		if _, err := svc.Post(ctx, "c1", nil, "Ada", content); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}

	res, err := svc.Search(ctx, "c1", "refund", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(res), res)
	}
	// Exact match ranks first and points at a stored message id.
	if res[0].Snippet != "refund" || res[0].Score != 1.0 || res[0].MessageID == "" {
		t.Fatalf("unexpected top match: %+v", res[0])
	}

	// k caps the result set.
	if res, err := svc.Search(ctx, "c1", "refund", 1); err != nil || len(res) != 1 {
		t.Fatalf("k=1: res=%v err=%v", res, err)
	}
}
