package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/supporthub/livechat-backend/internal/domain"
)

func TestGetAgent_FoundAndMissing(t *testing.T) {
	db := newRepoDB(t, &domain.Department{}, &domain.Agent{})
	dept := seedDepartment(t, db, "Billing", true, false)
	a := seedAgent(t, db, dept.ID, "alice", domain.AgentAvailable, true)

	got, err := GetAgent(context.Background(), db, a.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Username != "alice" || got.DepartmentID != dept.ID {
		t.Fatalf("unexpected agent: %+v", got)
	}

	_, err = GetAgent(context.Background(), db, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestListEligibleAgents_FiltersAndOrdering(t *testing.T) {
	db := newRepoDB(t, &domain.Department{}, &domain.Agent{})
	ctx := context.Background()
	dept := seedDepartment(t, db, "Billing", true, false)
	other := seedDepartment(t, db, "Tech", true, false)

	// Out of scope: busy, offline, deactivated, wrong department.
	seedAgent(t, db, dept.ID, "busy", domain.AgentBusy, true)
	seedAgent(t, db, dept.ID, "offline", domain.AgentOffline, true)
	seedAgent(t, db, dept.ID, "retired", domain.AgentAvailable, false)
	seedAgent(t, db, other.ID, "elsewhere", domain.AgentAvailable, true)

	b := seedAgent(t, db, dept.ID, "bob", domain.AgentAvailable, true)
	a := seedAgent(t, db, dept.ID, "alice", domain.AgentAvailable, true)

	got, err := ListEligibleAgents(ctx, db, dept.ID)
	if err != nil {
		t.Fatalf("ListEligibleAgents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 eligible, got %d: %+v", len(got), got)
	}
	// Ascending id order, whatever the insert order was.
	lo, hi := a.ID, b.ID
	if lo > hi {
		lo, hi = hi, lo
	}
	if got[0].ID != lo || got[1].ID != hi {
		t.Fatalf("order not ascending by id: %q, %q", got[0].ID, got[1].ID)
	}
}

func TestUpdateAgentStatus(t *testing.T) {
	db := newRepoDB(t, &domain.Department{}, &domain.Agent{})
	ctx := context.Background()
	dept := seedDepartment(t, db, "Billing", true, false)
	a := seedAgent(t, db, dept.ID, "alice", domain.AgentAvailable, true)

	if err := UpdateAgentStatus(ctx, db, a.ID, domain.AgentBusy); err != nil {
		t.Fatalf("UpdateAgentStatus: %v", err)
	}
	got, _ := GetAgent(ctx, db, a.ID)
	if got.Status != domain.AgentBusy {
		t.Fatalf("status = %q; want busy", got.Status)
	}

	if err := UpdateAgentStatus(ctx, db, "missing", domain.AgentBusy); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing agent: want ErrNotFound, got %v", err)
	}
}

func TestCountAgentsByStatus(t *testing.T) {
	db := newRepoDB(t, &domain.Department{}, &domain.Agent{})
	ctx := context.Background()
	dept := seedDepartment(t, db, "Billing", true, false)

	seedAgent(t, db, dept.ID, "a1", domain.AgentAvailable, true)
	seedAgent(t, db, dept.ID, "a2", domain.AgentAvailable, true)
	seedAgent(t, db, dept.ID, "b1", domain.AgentBusy, true)
	seedAgent(t, db, dept.ID, "inactive", domain.AgentAvailable, false)

	n, err := CountAgentsByStatus(ctx, db, dept.ID, domain.AgentAvailable)
	if err != nil || n != 2 {
		t.Fatalf("available = %d, %v; want 2", n, err)
	}
	n, err = CountAgentsByStatus(ctx, db, dept.ID, domain.AgentBusy)
	if err != nil || n != 1 {
		t.Fatalf("busy = %d, %v; want 1", n, err)
	}
}
