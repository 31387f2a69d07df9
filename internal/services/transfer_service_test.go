package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/supporthub/livechat-backend/internal/domain"
	"github.com/supporthub/livechat-backend/internal/repo"
	"github.com/supporthub/livechat-backend/internal/ws"
)

// TransferStore methods for the shared fake.

func (s *fakeEngineStore) GetDepartment(_ context.Context, _ *gorm.DB, id string) (*domain.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.departments[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *fakeEngineStore) GetActiveDepartment(_ context.Context, _ *gorm.DB, id string) (*domain.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.departments[id]
	if !ok || !d.IsActive {
		return nil, repo.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *fakeEngineStore) TransferChat(_ context.Context, _ *gorm.DB, chatID, targetDepartmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return repo.ErrNotFound
	}
	if c.AssignedAgentID != nil {
		s.active[*c.AssignedAgentID]--
	}
	from := c.ID
	c.DepartmentID = targetDepartmentID
	c.AssignedAgentID = nil
	c.Status = domain.ChatWaiting
	c.TransferredFrom = &from
	return nil
}

func newTestTransfer(t *testing.T, store *fakeEngineStore) (*Transfer, *fakeNotifier, *fakePublisher) {
	t.Helper()
	engine, n, pub := newTestEngine(t, store)
	return NewTransfer(engine.DB, store, engine, n, pub), n, pub
}

func activeDept(id, name string) domain.Department {
	return domain.Department{ID: id, Name: name, IsActive: true}
}

func TestMove_UnknownOrInactiveTarget(t *testing.T) {
	store := newFakeEngineStore()
	dormant := activeDept("d2", "Legacy")
	dormant.IsActive = false
	store.addDepartment(dormant)
	svc, _, _ := newTestTransfer(t, store)

	if _, err := svc.Move(context.Background(), "c1", "ghost", ""); !errors.Is(err, ErrDepartmentNotFound) {
		t.Fatalf("unknown target: want ErrDepartmentNotFound, got %v", err)
	}
	if _, err := svc.Move(context.Background(), "c1", "d2", ""); !errors.Is(err, ErrDepartmentNotFound) {
		t.Fatalf("inactive target: want ErrDepartmentNotFound, got %v", err)
	}
}

func TestMove_ClosedChatIsImmutable(t *testing.T) {
	store := newFakeEngineStore()
	store.addDepartment(activeDept("d1", "Billing"))
	store.addDepartment(activeDept("d2", "Tech"))
	c := waitingChat("c1", "d1")
	c.Status = domain.ChatClosed
	store.addChat(c)
	svc, _, _ := newTestTransfer(t, store)

	if _, err := svc.Move(context.Background(), "c1", "d2", ""); !errors.Is(err, ErrChatClosed) {
		t.Fatalf("want ErrChatClosed, got %v", err)
	}
}

func TestMove_MissingChat(t *testing.T) {
	store := newFakeEngineStore()
	store.addDepartment(activeDept("d2", "Tech"))
	svc, _, _ := newTestTransfer(t, store)

	if _, err := svc.Move(context.Background(), "ghost", "d2", ""); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("want ErrChatNotFound, got %v", err)
	}
}

func TestMove_ReleasesAgentRequeuesAndNotifies(t *testing.T) {
	store := newFakeEngineStore()
	store.addDepartment(activeDept("d1", "Billing"))
	store.addDepartment(activeDept("d2", "Tech"))

	holder := availableAgent("a1", "d1")
	holder.Status = domain.AgentBusy
	store.agents["a1"] = &holder
	store.active["a1"] = 1

	c := waitingChat("c1", "d1")
	c.Status = domain.ChatActive
	agentID := "a1"
	c.AssignedAgentID = &agentID
	store.addChat(c)

	svc, n, pub := newTestTransfer(t, store)

	moved, err := svc.Move(context.Background(), "c1", "d2", "needs engineering")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if moved.DepartmentID != "d2" {
		t.Fatalf("department = %q; want d2", moved.DepartmentID)
	}
	if moved.TransferredFrom == nil || *moved.TransferredFrom != "c1" {
		t.Fatalf("breadcrumb missing: %+v", moved)
	}
	// No agent in d2: the chat re-queues there.
	if moved.Status != domain.ChatWaiting || moved.AssignedAgentID != nil {
		t.Fatalf("chat should be waiting in target: %+v", moved)
	}

	store.mu.Lock()
	freed := store.agents["a1"].Status
	store.mu.Unlock()
	if freed != domain.AgentAvailable {
		t.Fatalf("old agent presence = %q; want available", freed)
	}

	var notice string
	n.mu.Lock()
	for _, b := range n.broadcasts {
		if sm, ok := b.evt.(ws.SystemMessage); ok {
			notice = sm.Content
		}
	}
	n.mu.Unlock()
	if !strings.Contains(notice, "Chat transferred from Billing to Tech") ||
		!strings.Contains(notice, "Reason: needs engineering") {
		t.Fatalf("transfer notice wrong: %q", notice)
	}
	if !pub.has("chat_transferred") {
		t.Fatalf("lifecycle event not published: %+v", pub.events)
	}
}

func TestMove_ReassignsInTargetDepartment(t *testing.T) {
	store := newFakeEngineStore()
	store.addDepartment(activeDept("d1", "Billing"))
	store.addDepartment(activeDept("d2", "Tech"))
	store.addAgent(availableAgent("a2", "d2"))
	store.addChat(waitingChat("c1", "d1"))
	svc, _, _ := newTestTransfer(t, store)

	moved, err := svc.Move(context.Background(), "c1", "d2", "")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if moved.AssignedAgentID == nil || *moved.AssignedAgentID != "a2" {
		t.Fatalf("chat not picked up in target: %+v", moved)
	}
	if moved.Status != domain.ChatActive {
		t.Fatalf("status = %q; want active", moved.Status)
	}
}
