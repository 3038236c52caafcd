package bot

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ArvalTIKS/evolution-assistant/internal/assistant"
	"github.com/ArvalTIKS/evolution-assistant/internal/domain"
	"github.com/ArvalTIKS/evolution-assistant/internal/evolution"
	"github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeAPI records provider calls and replays scripted results.
type fakeAPI struct {
	mu    sync.Mutex
	calls []string

	qr           string
	state        string
	stateErr     error
	sendErr      error
	sendErrOnce  bool
	connectErr   error
	createErr    error
	logoutErr    error
	webhookURLs  []string
	sentMessages []string
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAPI) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == prefix {
			n++
		}
	}
	return n
}

func (f *fakeAPI) CreateInstance(ctx context.Context, instance, token string) error {
	f.record("create")
	return f.createErr
}

func (f *fakeAPI) DeleteInstance(ctx context.Context, instance, token string) error {
	f.record("delete")
	return nil
}

func (f *fakeAPI) Connect(ctx context.Context, instance, token string) (string, error) {
	f.record("connect")
	return f.qr, f.connectErr
}

func (f *fakeAPI) Logout(ctx context.Context, instance, token string) error {
	f.record("logout")
	return f.logoutErr
}

func (f *fakeAPI) ConnectionState(ctx context.Context, instance, token string) (string, error) {
	f.record("state")
	return f.state, f.stateErr
}

func (f *fakeAPI) FetchQR(ctx context.Context, instance, token string) (string, error) {
	f.record("fetchqr")
	return f.qr, f.connectErr
}

func (f *fakeAPI) SendText(ctx context.Context, instance, token, phone, text string) error {
	f.record("send")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		err := f.sendErr
		if f.sendErrOnce {
			f.sendErr = nil
		}
		return err
	}
	f.sentMessages = append(f.sentMessages, fmt.Sprintf("%s:%s", phone, text))
	return nil
}

func (f *fakeAPI) SetWebhook(ctx context.Context, instance, token, hookURL string) error {
	f.record("webhook")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhookURLs = append(f.webhookURLs, hookURL)
	return nil
}

type completedBackend struct{}

func (completedBackend) CreateThread(ctx context.Context) (string, error) { return "thread_1", nil }
func (completedBackend) AddUserMessage(ctx context.Context, threadID, text string) error {
	return nil
}
func (completedBackend) StartRun(ctx context.Context, threadID, assistantID string) (string, error) {
	return "run_1", nil
}
func (completedBackend) RunStatus(ctx context.Context, threadID, runID string) (string, error) {
	return assistant.RunStatusCompleted, nil
}
func (completedBackend) LatestReply(ctx context.Context, threadID string) (string, error) {
	return "respuesta del asistente", nil
}

type botFixture struct {
	db         *gorm.DB
	api        *fakeAPI
	engine     *Engine
	gate       *Gate
	dispatcher *Dispatcher
	sessions   *assistant.SessionManager
	bus        EventBus.Bus
}

func newFixture(t *testing.T) *botFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Tables...))

	api := &fakeAPI{qr: "data:image/png;base64,QR", state: "open"}
	sessions := assistant.NewSessionManager(db, func(string) assistant.Backend {
		return completedBackend{}
	})
	bus := EventBus.New()
	cache := evolution.NewClientCache(api)
	engine := NewEngine(db, api, cache, sessions, bus, "http://hooks.local")
	// tests should not sleep through real backoff waits
	engine.retry = evolution.Policy{Attempts: 3, Base: 0, Cap: 0}
	gate := NewGate(db, bus)
	return &botFixture{
		db:         db,
		api:        api,
		engine:     engine,
		gate:       gate,
		dispatcher: NewDispatcher(db, engine, gate, sessions),
		sessions:   sessions,
		bus:        bus,
	}
}

func (f *botFixture) seedClient(t *testing.T, status string) *domain.ClientInstance {
	t.Helper()
	client := &domain.ClientInstance{
		ID:            2001,
		Name:          "acme",
		Email:         "owner@acme.test",
		InstanceName:  "inst_acme",
		InstanceToken: "tok-acme",
		OpenaiApiKey:  "sk-test",
		AssistantId:   "asst_1",
		Status:        status,
		LandingUrl:    "acme",
	}
	if status == domain.ClientStatusActive {
		client.ConnectedPhone = "549111234567"
	}
	require.NoError(t, f.db.Create(client).Error)
	return client
}

func (f *botFixture) reload(t *testing.T, id int64) *domain.ClientInstance {
	t.Helper()
	var client domain.ClientInstance
	require.NoError(t, f.db.First(&client, id).Error)
	return &client
}
