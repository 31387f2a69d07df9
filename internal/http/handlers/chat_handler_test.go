package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/supporthub/livechat-backend/internal/domain"
	"github.com/supporthub/livechat-backend/internal/events"
	"github.com/supporthub/livechat-backend/internal/repo"
	"github.com/supporthub/livechat-backend/internal/search"
	"github.com/supporthub/livechat-backend/internal/services"
	"github.com/supporthub/livechat-backend/internal/ws"
)

// ---------- test DB + repo shim ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:chat_handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&domain.Department{}, &domain.Agent{}, &domain.Chat{}, &domain.Message{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Minimal shim binding the repo free functions to the service store
// contracts (like router.go does).
type testStore struct{}

func (testStore) CreateChat(ctx context.Context, db *gorm.DB, name, email, deptID string) (*domain.Chat, error) {
	return repo.CreateChat(ctx, db, name, email, deptID)
}

func (testStore) GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, id)
}

func (testStore) CountChats(ctx context.Context, db *gorm.DB, f repo.ChatFilter) (int64, error) {
	return repo.CountChats(ctx, db, f)
}

func (testStore) ListChatsPage(ctx context.Context, db *gorm.DB, f repo.ChatFilter, offset, limit int) ([]domain.Chat, error) {
	return repo.ListChatsPage(ctx, db, f, offset, limit)
}

func (testStore) CloseChat(ctx context.Context, db *gorm.DB, chatID string, closedAt time.Time) error {
	return repo.CloseChat(ctx, db, chatID, closedAt)
}

func (testStore) GetDepartment(ctx context.Context, db *gorm.DB, id string) (*domain.Department, error) {
	return repo.GetDepartment(ctx, db, id)
}

func (testStore) GetActiveDepartment(ctx context.Context, db *gorm.DB, id string) (*domain.Department, error) {
	return repo.GetActiveDepartment(ctx, db, id)
}

func (testStore) GetCustomerCareDepartment(ctx context.Context, db *gorm.DB) (*domain.Department, error) {
	return repo.GetCustomerCareDepartment(ctx, db)
}

func (testStore) GetAgent(ctx context.Context, db *gorm.DB, id string) (*domain.Agent, error) {
	return repo.GetAgent(ctx, db, id)
}

func (testStore) ListEligibleAgents(ctx context.Context, db *gorm.DB, departmentID string) ([]domain.Agent, error) {
	return repo.ListEligibleAgents(ctx, db, departmentID)
}

func (testStore) CountActiveChatsForAgent(ctx context.Context, db *gorm.DB, agentID string) (int64, error) {
	return repo.CountActiveChatsForAgent(ctx, db, agentID)
}

func (testStore) ClaimWaitingChat(ctx context.Context, db *gorm.DB, chatID, agentID string) (int64, error) {
	return repo.ClaimWaitingChat(ctx, db, chatID, agentID)
}

func (testStore) UpdateAgentStatus(ctx context.Context, db *gorm.DB, agentID string, status domain.AgentStatus) error {
	return repo.UpdateAgentStatus(ctx, db, agentID, status)
}

func (testStore) NextWaitingChat(ctx context.Context, db *gorm.DB, departmentID string) (*domain.Chat, error) {
	return repo.NextWaitingChat(ctx, db, departmentID)
}

func (testStore) CountWaitingAheadOf(ctx context.Context, db *gorm.DB, chat *domain.Chat) (int64, error) {
	return repo.CountWaitingAheadOf(ctx, db, chat)
}

func (testStore) CountAgentsByStatus(ctx context.Context, db *gorm.DB, departmentID string, status domain.AgentStatus) (int64, error) {
	return repo.CountAgentsByStatus(ctx, db, departmentID, status)
}

func (testStore) TransferChat(ctx context.Context, db *gorm.DB, chatID, targetDepartmentID string) error {
	return repo.TransferChat(ctx, db, chatID, targetDepartmentID)
}

func (testStore) CreateMessage(ctx context.Context, db *gorm.DB, chatID string, senderID *string, senderName, content string, system bool) (*domain.Message, error) {
	return repo.CreateMessage(ctx, db, chatID, senderID, senderName, content, system)
}

func (testStore) CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	return repo.CountMessages(ctx, db, chatID)
}

func (testStore) ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	return repo.ListMessagesPage(ctx, db, chatID, offset, limit)
}

type dropNotifier struct{}

func (dropNotifier) BroadcastToChat(string, ws.Event) {}
func (dropNotifier) NotifyAgent(string, ws.Event)     {}

// newRealChatService wires a ChatService against a real DB for the
// end-to-end create/list paths.
func newRealChatService(db *gorm.DB) *services.ChatService {
	queue := services.NewQueue(db, testStore{})
	assign := services.NewAssignment(db, testStore{}, dropNotifier{}, events.Noop{}, queue)
	return services.NewChatService(db, testStore{}, assign, dropNotifier{}, events.Noop{})
}

// dbIdemStore backs the handlers' idempotency dependency with the repo
// functions, matching the production wiring in the router.
type dbIdemStore struct{ db *gorm.DB }

func (s dbIdemStore) Lookup(ctx context.Context, email, deptID, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, s.db, email, deptID, key, now)
}

func (s dbIdemStore) Record(ctx context.Context, email, deptID, key, chatID string, status int, ttl time.Duration) error {
	_, err := repo.CreateIdempotency(ctx, s.db, email, deptID, key, chatID, status, ttl)
	return err
}

func dbChatStats(db *gorm.DB) ChatStatsFunc {
	return func(ctx context.Context, f repo.ChatFilter) (int64, *time.Time, error) {
		return repo.ChatsStats(ctx, db, f)
	}
}

func seedCareDept(t *testing.T, db *gorm.DB) *domain.Department {
	t.Helper()
	d := &domain.Department{ID: uuid.NewString(), Name: "Customer Care", IsActive: true, IsCustomerCare: true}
	if err := db.Create(d).Error; err != nil {
		t.Fatalf("seed department: %v", err)
	}
	return d
}

// ---------- tiny stubs for other services ----------

type stubChatSvc struct {
	create   func(context.Context, string, string, string) (*domain.Chat, error)
	get      func(context.Context, string) (*domain.Chat, error)
	listPage func(context.Context, repo.ChatFilter, int, int) ([]domain.Chat, int64, error)
	close    func(context.Context, string) (*domain.Chat, error)
}

func (s stubChatSvc) Create(ctx context.Context, name, email, dept string) (*domain.Chat, error) {
	if s.create != nil {
		return s.create(ctx, name, email, dept)
	}
	return &domain.Chat{ID: uuid.NewString(), CustomerName: name, Status: domain.ChatWaiting}, nil
}

func (s stubChatSvc) Get(ctx context.Context, id string) (*domain.Chat, error) {
	if s.get != nil {
		return s.get(ctx, id)
	}
	return &domain.Chat{ID: id, Status: domain.ChatWaiting}, nil
}

func (s stubChatSvc) ListPage(ctx context.Context, f repo.ChatFilter, p, ps int) ([]domain.Chat, int64, error) {
	if s.listPage != nil {
		return s.listPage(ctx, f, p, ps)
	}
	return nil, 0, nil
}

func (s stubChatSvc) Close(ctx context.Context, id string) (*domain.Chat, error) {
	if s.close != nil {
		return s.close(ctx, id)
	}
	return &domain.Chat{ID: id, Status: domain.ChatClosed}, nil
}

type stubMsgSvc struct {
	post     func(context.Context, string, *string, string, string) (*domain.Message, error)
	listPage func(context.Context, string, int, int) ([]domain.Message, int64, error)
	search   func(context.Context, string, string, int) ([]search.Result, error)
}

func (s stubMsgSvc) Post(ctx context.Context, chatID string, senderID *string, senderName, content string) (*domain.Message, error) {
	if s.post != nil {
		return s.post(ctx, chatID, senderID, senderName, content)
	}
	return &domain.Message{ID: uuid.NewString(), ChatID: chatID, SenderName: senderName, Content: content}, nil
}

func (s stubMsgSvc) ListPage(ctx context.Context, chatID string, p, ps int) ([]domain.Message, int64, error) {
	if s.listPage != nil {
		return s.listPage(ctx, chatID, p, ps)
	}
	return nil, 0, nil
}

func (s stubMsgSvc) Search(ctx context.Context, chatID, query string, k int) ([]search.Result, error) {
	if s.search != nil {
		return s.search(ctx, chatID, query, k)
	}
	return nil, nil
}

type stubAssignSvc struct {
	claim   func(context.Context, string, string) (*domain.Chat, error)
	decline func(context.Context, string, string) error
}

func (s stubAssignSvc) Claim(ctx context.Context, chatID, agentID string) (*domain.Chat, error) {
	if s.claim != nil {
		return s.claim(ctx, chatID, agentID)
	}
	return &domain.Chat{ID: chatID, AssignedAgentID: &agentID, Status: domain.ChatActive}, nil
}

func (s stubAssignSvc) Decline(ctx context.Context, chatID, agentID string) error {
	if s.decline != nil {
		return s.decline(ctx, chatID, agentID)
	}
	return nil
}

type stubQueueSvc struct {
	status func(context.Context, string) (*services.QueueInfo, error)
}

func (s stubQueueSvc) Status(ctx context.Context, chatID string) (*services.QueueInfo, error) {
	if s.status != nil {
		return s.status(ctx, chatID)
	}
	return &services.QueueInfo{ChatID: chatID, Position: 1, Status: domain.ChatWaiting}, nil
}

type stubTransferSvc struct {
	move func(context.Context, string, string, string) (*domain.Chat, error)
}

func (s stubTransferSvc) Move(ctx context.Context, chatID, deptID, reason string) (*domain.Chat, error) {
	if s.move != nil {
		return s.move(ctx, chatID, deptID, reason)
	}
	return &domain.Chat{ID: chatID, DepartmentID: deptID, Status: domain.ChatWaiting}, nil
}

func newStubHandlers() *Handlers {
	return New(stubChatSvc{}, stubMsgSvc{}, stubAssignSvc{}, stubQueueSvc{}, stubTransferSvc{})
}

// ---------- helpers-only tests ----------

func Test_chatFilter_and_clampPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// clampPagination bounds
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?page=-5&page_size=9999", nil)
	p, ps := clampPagination(c)
	if p != 1 || ps != 100 {
		t.Fatalf("clamp bounds got p=%d ps=%d", p, ps)
	}
	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?page=&page_size=0", nil)
	p, ps = clampPagination(c)
	if p != 1 || ps != 1 {
		t.Fatalf("clamp defaults got p=%d ps=%d", p, ps)
	}

	// chatFilter parsing
	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?status=waiting&department_id=d1&agent_id=a1", nil)
	f, okf := chatFilter(c)
	if !okf || f.Status != domain.ChatWaiting || f.DepartmentID != "d1" || f.AgentID != "a1" {
		t.Fatalf("filter mismatch: ok=%v %#v", okf, f)
	}

	// unknown status rejected
	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?status=paused", nil)
	if _, okf := chatFilter(c); okf {
		t.Fatalf("expected unknown status to be rejected")
	}
}

// ---------- CreateChat ----------

func TestCreateChat_BadJSON_MissingEmail_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Bad JSON -> 400
	{
		h := newStubHandlers()
		r := gin.New()
		r.POST("/chats", h.CreateChat)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString("{bad"))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("bad json -> %d", w.Code)
		}
	}

	// Missing / invalid email -> 400
	{
		h := newStubHandlers()
		r := gin.New()
		r.POST("/chats", h.CreateChat)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString(`{"customer_name":"Ada","customer_email":"not-an-email"}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("invalid email -> %d", w.Code)
		}
	}

	// Success -> 201, lands in customer care by default
	{
		db := newHandlerDB(t)
		care := seedCareDept(t, db)
		svc := newRealChatService(db)
		h := New(svc, stubMsgSvc{}, stubAssignSvc{}, stubQueueSvc{}, stubTransferSvc{})
		r := gin.New()
		r.POST("/chats", h.CreateChat)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString(`{"customer_name":"  Ada  ","customer_email":"ada@example.com"}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("create -> %d body=%s", w.Code, w.Body.String())
		}
		var out domain.Chat
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if out.CustomerName != "Ada" || out.DepartmentID != care.ID || out.Status != domain.ChatWaiting {
			t.Fatalf("unexpected chat: %#v", out)
		}
	}

	// Unknown department -> 404
	{
		db := newHandlerDB(t)
		seedCareDept(t, db)
		svc := newRealChatService(db)
		h := New(svc, stubMsgSvc{}, stubAssignSvc{}, stubQueueSvc{}, stubTransferSvc{})
		r := gin.New()
		r.POST("/chats", h.CreateChat)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString(`{"customer_name":"Ada","customer_email":"ada@example.com","department_id":"ghost"}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Fatalf("unknown dept -> %d", w.Code)
		}
	}
}

func TestCreateChat_IdempotencyReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newHandlerDB(t)
	seedCareDept(t, db)
	svc := newRealChatService(db)
	h := New(svc, stubMsgSvc{}, stubAssignSvc{}, stubQueueSvc{}, stubTransferSvc{})
	h.Idempotency = dbIdemStore{db}
	r := gin.New()
	r.POST("/chats", h.CreateChat)

	body := `{"customer_name":"Ada","customer_email":"ada@example.com"}`
	key := uuid.NewString()

	// First request creates.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString(body))
	req.Header.Set("Idempotency-Key", key)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("first -> %d body=%s", w.Code, w.Body.String())
	}
	var first domain.Chat
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatalf("json: %v", err)
	}

	// Retry with the same key replays the same chat.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString(body))
	req.Header.Set("Idempotency-Key", key)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("replay -> %d body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected Idempotency-Replayed header")
	}
	var second domain.Chat
	if err := json.Unmarshal(w.Body.Bytes(), &second); err != nil {
		t.Fatalf("json: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned a different chat: %s vs %s", second.ID, first.ID)
	}

	// A fresh key opens a new chat.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString(body))
	req.Header.Set("Idempotency-Key", uuid.NewString())
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("fresh key -> %d", w.Code)
	}
	var third domain.Chat
	if err := json.Unmarshal(w.Body.Bytes(), &third); err != nil {
		t.Fatalf("json: %v", err)
	}
	if third.ID == first.ID {
		t.Fatalf("fresh key replayed the old chat")
	}
}

// memIdemStore is a map-backed IdempotencyStore for tests that run without a
// database.
type memIdemStore struct {
	recs map[string]*domain.Idempotency
}

func (s *memIdemStore) Lookup(_ context.Context, email, deptID, key string, _ time.Time) (*domain.Idempotency, error) {
	if rec, ok := s.recs[email+"|"+deptID+"|"+key]; ok {
		return rec, nil
	}
	return nil, repo.ErrNotFound
}

func (s *memIdemStore) Record(_ context.Context, email, deptID, key, chatID string, status int, _ time.Duration) error {
	s.recs[email+"|"+deptID+"|"+key] = &domain.Idempotency{ChatID: chatID, Status: status}
	return nil
}

// Replay must work against any ChatService implementation, not just the
// concrete one: the handler goes through its injected store and service
// interfaces only.
func TestCreateChat_ReplayWithStubService(t *testing.T) {
	gin.SetMode(gin.TestMode)

	created := map[string]*domain.Chat{}
	svc := stubChatSvc{
		create: func(_ context.Context, name, email, _ string) (*domain.Chat, error) {
			c := &domain.Chat{ID: uuid.NewString(), CustomerName: name, CustomerEmail: email, Status: domain.ChatWaiting}
			created[c.ID] = c
			return c, nil
		},
		get: func(_ context.Context, id string) (*domain.Chat, error) {
			if c, ok := created[id]; ok {
				return c, nil
			}
			return nil, services.ErrChatNotFound
		},
	}
	h := New(svc, stubMsgSvc{}, stubAssignSvc{}, stubQueueSvc{}, stubTransferSvc{})
	h.Idempotency = &memIdemStore{recs: map[string]*domain.Idempotency{}}

	r := gin.New()
	r.POST("/chats", h.CreateChat)

	body := `{"customer_name":"Ada","customer_email":"ada@example.com"}`
	key := uuid.NewString()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString(body))
	req.Header.Set("Idempotency-Key", key)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("first -> %d body=%s", w.Code, w.Body.String())
	}
	var first domain.Chat
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatalf("json: %v", err)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString(body))
	req.Header.Set("Idempotency-Key", key)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("replay -> %d body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected Idempotency-Replayed header")
	}
	var second domain.Chat
	if err := json.Unmarshal(w.Body.Bytes(), &second); err != nil {
		t.Fatalf("json: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned a different chat: %s vs %s", second.ID, first.ID)
	}
	if len(created) != 1 {
		t.Fatalf("replay opened a second chat: %d created", len(created))
	}
}

// ---------- ListChats ----------

func TestListChats_ETag304_and_SuccessPage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newHandlerDB(t)
	dept := seedCareDept(t, db)
	svc := newRealChatService(db)
	h := New(svc, stubMsgSvc{}, stubAssignSvc{}, stubQueueSvc{}, stubTransferSvc{})
	h.ChatStats = dbChatStats(db)

	for _, name := range []string{"A", "B"} {
		if _, err := repo.CreateChat(context.Background(), db, name, name+"@example.com", dept.ID); err != nil {
			t.Fatalf("seed chat: %v", err)
		}
	}

	r := gin.New()
	r.GET("/chats", h.ListChats)

	// Compute expected ETag for the unfiltered listing.
	count, maxTS, err := repo.ChatsStats(context.Background(), db, repo.ChatFilter{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.Unix()
	}
	etag := fmt.Sprintf(`W/"chats:%s:%s:%s:%d:%d"`, "", "", "", count, ts)

	// 304 path
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	req.Header.Set("If-None-Match", etag)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Fatalf("etag 304 -> %d", w.Code)
	}

	// 200 success with pagination
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/chats?page=1&page_size=1", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list 200 -> %d body=%s", w.Code, w.Body.String())
	}
	var out ListChatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.Pagination.Page != 1 || out.Pagination.PageSize != 1 || out.Pagination.Total != count {
		t.Fatalf("pagination mismatch: %#v", out.Pagination)
	}
	if out.Pagination.TotalPages != 2 || !out.Pagination.HasNext {
		t.Fatalf("pages/hasnext mismatch: %#v", out.Pagination)
	}
	if len(out.Chats) != 1 {
		t.Fatalf("expected 1 chat on page 1")
	}

	// Unknown status filter -> 400
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/chats?status=paused", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad status -> %d", w.Code)
	}
}

func TestListChats_SkipETagPrecheck_And_ListError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// ChatStats left nil: the ETag pre-check is skipped and the listing error
	// surfaces directly.
	svc := stubChatSvc{
		listPage: func(ctx context.Context, f repo.ChatFilter, p, ps int) ([]domain.Chat, int64, error) {
			return nil, 0, gorm.ErrInvalidField
		},
	}
	h := New(svc, stubMsgSvc{}, stubAssignSvc{}, stubQueueSvc{}, stubTransferSvc{})

	r := gin.New()
	r.GET("/chats", h.ListChats)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/chats?page=1&page_size=5", nil)
	req.Header.Set("If-None-Match", `W/"nope"`)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on list error; got %d body=%s", w.Code, w.Body.String())
	}
}

// ---------- GetChat ----------

func TestGetChat_UUID_NotFound_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// bad UUID
	{
		h := newStubHandlers()
		r := gin.New()
		r.GET("/chats/:id", h.GetChat)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/chats/not-uuid", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("uuid 400 -> %d", w.Code)
		}
	}

	// not found
	{
		svc := stubChatSvc{get: func(context.Context, string) (*domain.Chat, error) {
			return nil, services.ErrChatNotFound
		}}
		h := New(svc, stubMsgSvc{}, stubAssignSvc{}, stubQueueSvc{}, stubTransferSvc{})
		r := gin.New()
		r.GET("/chats/:id", h.GetChat)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/chats/"+uuid.NewString(), nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Fatalf("404 -> %d", w.Code)
		}
	}

	// success
	{
		h := newStubHandlers()
		r := gin.New()
		r.GET("/chats/:id", h.GetChat)

		chatID := uuid.NewString()
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/chats/"+chatID, nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("200 -> %d", w.Code)
		}
		var out domain.Chat
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if out.ID != chatID {
			t.Fatalf("unexpected chat: %#v", out)
		}
	}
}

// ---------- QueueStatus ----------

func TestQueueStatus_Success_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// success
	{
		svc := stubQueueSvc{status: func(ctx context.Context, chatID string) (*services.QueueInfo, error) {
			return &services.QueueInfo{
				ChatID:               chatID,
				Position:             3,
				EstimatedWaitMinutes: 15,
				Status:               domain.ChatWaiting,
				AgentsAvailable:      0,
				AgentsBusy:           2,
			}, nil
		}}
		h := New(stubChatSvc{}, stubMsgSvc{}, stubAssignSvc{}, svc, stubTransferSvc{})
		r := gin.New()
		r.GET("/chats/:id/queue-status", h.QueueStatus)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/chats/"+uuid.NewString()+"/queue-status", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("200 -> %d body=%s", w.Code, w.Body.String())
		}
		var out services.QueueInfo
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if out.Position != 3 || out.EstimatedWaitMinutes != 15 || out.AgentsBusy != 2 {
			t.Fatalf("unexpected queue info: %#v", out)
		}
	}

	// not found
	{
		svc := stubQueueSvc{status: func(context.Context, string) (*services.QueueInfo, error) {
			return nil, services.ErrChatNotFound
		}}
		h := New(stubChatSvc{}, stubMsgSvc{}, stubAssignSvc{}, svc, stubTransferSvc{})
		r := gin.New()
		r.GET("/chats/:id/queue-status", h.QueueStatus)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/chats/"+uuid.NewString()+"/queue-status", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Fatalf("404 -> %d", w.Code)
		}
	}
}

// ---------- ClaimChat ----------

func TestClaimChat_Binding_Conflicts_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mount := func(h *Handlers) *gin.Engine {
		r := gin.New()
		r.PUT("/chats/:id/claim", h.ClaimChat)
		return r
	}

	// bad UUID
	{
		r := mount(newStubHandlers())
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/chats/not-uuid/claim", bytes.NewBufferString(`{"agent_id":"a1"}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("uuid 400 -> %d", w.Code)
		}
	}

	// missing agent_id -> 400
	{
		r := mount(newStubHandlers())
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/chats/"+uuid.NewString()+"/claim", bytes.NewBufferString(`{}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("missing agent 400 -> %d", w.Code)
		}
	}

	// sentinel -> status/code table
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrChatNotFound, http.StatusNotFound, ErrCodeNotFound},
		{services.ErrAgentNotFound, http.StatusNotFound, ErrCodeNotFound},
		{services.ErrAgentBusy, http.StatusConflict, ErrCodeAgentBusy},
		{services.ErrChatUnavailable, http.StatusConflict, ErrCodeChatUnavailable},
	}
	for _, tc := range cases {
		svc := stubAssignSvc{claim: func(context.Context, string, string) (*domain.Chat, error) {
			return nil, tc.err
		}}
		h := New(stubChatSvc{}, stubMsgSvc{}, svc, stubQueueSvc{}, stubTransferSvc{})
		r := mount(h)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/chats/"+uuid.NewString()+"/claim", bytes.NewBufferString(`{"agent_id":"a1"}`))
		r.ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Fatalf("%v -> %d, want %d", tc.err, w.Code, tc.status)
		}
		var er ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
			t.Fatalf("json: %v", err)
		}
		if er.Code != tc.code {
			t.Fatalf("%v -> code %q, want %q", tc.err, er.Code, tc.code)
		}
	}

	// success 200, args forwarded
	{
		var got struct{ chatID, agentID string }
		svc := stubAssignSvc{claim: func(ctx context.Context, chatID, agentID string) (*domain.Chat, error) {
			got.chatID, got.agentID = chatID, agentID
			return &domain.Chat{ID: chatID, AssignedAgentID: &agentID, Status: domain.ChatActive}, nil
		}}
		h := New(stubChatSvc{}, stubMsgSvc{}, svc, stubQueueSvc{}, stubTransferSvc{})
		r := mount(h)

		chatID := uuid.NewString()
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/chats/"+chatID+"/claim", bytes.NewBufferString(`{"agent_id":"a9"}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("200 -> %d body=%s", w.Code, w.Body.String())
		}
		if got.chatID != chatID || got.agentID != "a9" {
			t.Fatalf("service args mismatch: %+v", got)
		}
		var out domain.Chat
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if out.Status != domain.ChatActive || out.AssignedAgentID == nil || *out.AssignedAgentID != "a9" {
			t.Fatalf("unexpected chat: %#v", out)
		}
	}
}

// ---------- DeclineAssignment ----------

func TestDeclineAssignment_Success_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// success 204, args forwarded
	{
		var got struct{ chatID, agentID string }
		svc := stubAssignSvc{decline: func(ctx context.Context, chatID, agentID string) error {
			got.chatID, got.agentID = chatID, agentID
			return nil
		}}
		h := New(stubChatSvc{}, stubMsgSvc{}, svc, stubQueueSvc{}, stubTransferSvc{})
		r := gin.New()
		r.PUT("/chats/:id/decline-assignment", h.DeclineAssignment)

		chatID := uuid.NewString()
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/chats/"+chatID+"/decline-assignment", bytes.NewBufferString(`{"agent_id":"a2"}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("204 -> %d", w.Code)
		}
		if got.chatID != chatID || got.agentID != "a2" {
			t.Fatalf("service args mismatch: %+v", got)
		}
	}

	// unknown agent -> 404
	{
		svc := stubAssignSvc{decline: func(context.Context, string, string) error {
			return services.ErrAgentNotFound
		}}
		h := New(stubChatSvc{}, stubMsgSvc{}, svc, stubQueueSvc{}, stubTransferSvc{})
		r := gin.New()
		r.PUT("/chats/:id/decline-assignment", h.DeclineAssignment)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/chats/"+uuid.NewString()+"/decline-assignment", bytes.NewBufferString(`{"agent_id":"ghost"}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Fatalf("404 -> %d", w.Code)
		}
	}
}

// ---------- CloseChat ----------

func TestCloseChat_Success_AlreadyClosed(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// success
	{
		h := newStubHandlers()
		r := gin.New()
		r.PUT("/chats/:id/close", h.CloseChat)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/chats/"+uuid.NewString()+"/close", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("200 -> %d", w.Code)
		}
		var out domain.Chat
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if out.Status != domain.ChatClosed {
			t.Fatalf("unexpected chat: %#v", out)
		}
	}

	// already closed -> 409 chat_closed
	{
		svc := stubChatSvc{close: func(context.Context, string) (*domain.Chat, error) {
			return nil, services.ErrChatClosed
		}}
		h := New(svc, stubMsgSvc{}, stubAssignSvc{}, stubQueueSvc{}, stubTransferSvc{})
		r := gin.New()
		r.PUT("/chats/:id/close", h.CloseChat)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/chats/"+uuid.NewString()+"/close", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusConflict {
			t.Fatalf("409 -> %d", w.Code)
		}
		var er ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
			t.Fatalf("json: %v", err)
		}
		if er.Code != ErrCodeChatClosed {
			t.Fatalf("code = %q", er.Code)
		}
	}
}

// ---------- TransferChat ----------

func TestTransferChat_Binding_NotFound_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// missing department_id -> 400
	{
		h := newStubHandlers()
		r := gin.New()
		r.PUT("/chats/:id/transfer", h.TransferChat)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/chats/"+uuid.NewString()+"/transfer", bytes.NewBufferString(`{}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("400 -> %d", w.Code)
		}
	}

	// inactive / unknown department -> 404
	{
		svc := stubTransferSvc{move: func(context.Context, string, string, string) (*domain.Chat, error) {
			return nil, services.ErrDepartmentNotFound
		}}
		h := New(stubChatSvc{}, stubMsgSvc{}, stubAssignSvc{}, stubQueueSvc{}, svc)
		r := gin.New()
		r.PUT("/chats/:id/transfer", h.TransferChat)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/chats/"+uuid.NewString()+"/transfer", bytes.NewBufferString(`{"department_id":"ghost"}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Fatalf("404 -> %d", w.Code)
		}
	}

	// success, reason forwarded trimmed
	{
		var got struct{ chatID, deptID, reason string }
		svc := stubTransferSvc{move: func(ctx context.Context, chatID, deptID, reason string) (*domain.Chat, error) {
			got.chatID, got.deptID, got.reason = chatID, deptID, reason
			return &domain.Chat{ID: chatID, DepartmentID: deptID, Status: domain.ChatWaiting}, nil
		}}
		h := New(stubChatSvc{}, stubMsgSvc{}, stubAssignSvc{}, stubQueueSvc{}, svc)
		r := gin.New()
		r.PUT("/chats/:id/transfer", h.TransferChat)

		chatID := uuid.NewString()
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/chats/"+chatID+"/transfer", bytes.NewBufferString(`{"department_id":"d2","reason":"  needs engineering  "}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("200 -> %d body=%s", w.Code, w.Body.String())
		}
		if got.chatID != chatID || got.deptID != "d2" || got.reason != "needs engineering" {
			t.Fatalf("service args mismatch: %+v", got)
		}
	}
}
