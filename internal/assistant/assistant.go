// Package assistant drives AI conversations: one backend thread per
// WhatsApp contact, runs polled to completion with a hard budget.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ArvalTIKS/evolution-assistant/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// runPollInterval spaces out run status checks.
	runPollInterval = time.Second
	// maxRunPollIterations caps a run at one minute of polling.
	maxRunPollIterations = 60

	// FallbackReply is sent whenever the assistant pipeline fails.
	FallbackReply = "Lo siento, hubo un error procesando tu mensaje."
)

// Run states reported by backends.
const (
	RunStatusQueued     = "queued"
	RunStatusInProgress = "in_progress"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
	RunStatusCancelled  = "cancelled"
	RunStatusExpired    = "expired"
)

var errPollBudgetExhausted = errors.New("assistant run poll budget exhausted")

// Backend is one AI provider account. Thread ids returned here are
// persisted in conversation_thread rows.
type Backend interface {
	CreateThread(ctx context.Context) (string, error)
	AddUserMessage(ctx context.Context, threadID, text string) error
	StartRun(ctx context.Context, threadID, assistantID string) (string, error)
	RunStatus(ctx context.Context, threadID, runID string) (string, error)
	LatestReply(ctx context.Context, threadID string) (string, error)
}

// BackendFactory builds a backend for one API key.
type BackendFactory func(apiKey string) Backend

// SessionManager owns conversation threads and run execution for all
// client instances.
type SessionManager struct {
	db      *gorm.DB
	factory BackendFactory

	mu       sync.Mutex
	backends map[int64]keyedBackend

	group singleflight.Group
}

type keyedBackend struct {
	apiKey  string
	backend Backend
}

func NewSessionManager(db *gorm.DB, factory BackendFactory) *SessionManager {
	return &SessionManager{
		db:       db,
		factory:  factory,
		backends: make(map[int64]keyedBackend),
	}
}

// backendFor caches one backend per client, rebuilt when the stored
// API key changes.
func (m *SessionManager) backendFor(client *domain.ClientInstance) Backend {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kb, ok := m.backends[client.ID]; ok && kb.apiKey == client.OpenaiApiKey {
		return kb.backend
	}
	b := m.factory(client.OpenaiApiKey)
	m.backends[client.ID] = keyedBackend{apiKey: client.OpenaiApiKey, backend: b}
	return b
}

// Forget drops the cached backend of a removed client.
func (m *SessionManager) Forget(clientID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.backends, clientID)
}

// Reply runs one user message through the client's assistant and
// returns the reply text. Failures never propagate to the contact,
// they collapse into FallbackReply.
func (m *SessionManager) Reply(ctx context.Context, client *domain.ClientInstance, phone, text string) string {
	reply, err := m.reply(ctx, client, phone, text)
	if err != nil {
		zap.L().Error("assistant reply failed",
			zap.String("namespace", "assistant"),
			zap.Int64("client_id", client.ID),
			zap.String("phone", phone),
			zap.Error(err))
		return FallbackReply
	}
	return reply
}

func (m *SessionManager) reply(ctx context.Context, client *domain.ClientInstance, phone, text string) (string, error) {
	if client.AssistantId == "" || client.OpenaiApiKey == "" {
		return "", errors.New("client has no assistant configured")
	}
	backend := m.backendFor(client)

	threadID, err := m.threadFor(ctx, backend, client.ID, phone)
	if err != nil {
		return "", fmt.Errorf("resolve thread: %w", err)
	}

	if err := backend.AddUserMessage(ctx, threadID, text); err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}

	runID, err := backend.StartRun(ctx, threadID, client.AssistantId)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}

	if err := m.awaitRun(ctx, backend, threadID, runID); err != nil {
		return "", err
	}

	reply, err := backend.LatestReply(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("fetch reply: %w", err)
	}
	return reply, nil
}

// awaitRun polls until the run settles or the iteration budget runs
// out. Cancellation of ctx stops polling immediately.
func (m *SessionManager) awaitRun(ctx context.Context, backend Backend, threadID, runID string) error {
	ticker := time.NewTicker(runPollInterval)
	defer ticker.Stop()
	for i := 0; i < maxRunPollIterations; i++ {
		status, err := backend.RunStatus(ctx, threadID, runID)
		if err != nil {
			return fmt.Errorf("poll run: %w", err)
		}
		switch status {
		case RunStatusCompleted:
			return nil
		case RunStatusFailed, RunStatusCancelled, RunStatusExpired:
			return fmt.Errorf("run ended with status %s", status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return errPollBudgetExhausted
}

// threadFor returns the persisted thread for (client, phone), creating
// it on the backend at most once even under concurrent first messages.
func (m *SessionManager) threadFor(ctx context.Context, backend Backend, clientID int64, phone string) (string, error) {
	var thread domain.ConversationThread
	err := m.db.Where("client_id = ? and phone_number = ?", clientID, phone).First(&thread).Error
	if err == nil {
		return thread.ExternalThreadId, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	key := fmt.Sprintf("%d:%s", clientID, phone)
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		externalID, err := backend.CreateThread(ctx)
		if err != nil {
			return nil, err
		}
		record := domain.ConversationThread{
			ClientId:         clientID,
			PhoneNumber:      phone,
			ExternalThreadId: externalID,
		}
		// a concurrent writer may have won the unique index race
		err = m.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
		if err != nil {
			return nil, err
		}
		var winner domain.ConversationThread
		if err := m.db.Where("client_id = ? and phone_number = ?", clientID, phone).First(&winner).Error; err != nil {
			return nil, err
		}
		return winner.ExternalThreadId, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// DeleteThreads removes every stored thread of a client, next contact
// messages start fresh conversations.
func (m *SessionManager) DeleteThreads(clientID int64) error {
	return m.db.Where("client_id = ?", clientID).Delete(&domain.ConversationThread{}).Error
}
