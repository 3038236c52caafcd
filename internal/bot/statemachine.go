package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ArvalTIKS/evolution-assistant/internal/assistant"
	"github.com/ArvalTIKS/evolution-assistant/internal/domain"
	"github.com/ArvalTIKS/evolution-assistant/internal/evolution"
	"github.com/ArvalTIKS/evolution-assistant/internal/notify"
	"github.com/ArvalTIKS/evolution-assistant/pkg/common"
	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrClientNotFound = errors.New("client instance not found")
	ErrNotConnected   = errors.New("instance is not connected")
)

// Engine owns instance lifecycle transitions. Webhook events, admin
// toggles and the recovery monitor all funnel through it so status
// changes happen in one place.
type Engine struct {
	db          *gorm.DB
	api         evolution.API
	cache       *evolution.ClientCache
	sessions    *assistant.SessionManager
	bus         EventBus.Bus
	registry    *Registry
	webhookBase string
	retry       evolution.Policy
}

func NewEngine(db *gorm.DB, api evolution.API, cache *evolution.ClientCache,
	sessions *assistant.SessionManager, bus EventBus.Bus, webhookBase string) *Engine {
	return &Engine{
		db:          db,
		api:         api,
		cache:       cache,
		sessions:    sessions,
		bus:         bus,
		registry:    NewRegistry(),
		webhookBase: strings.TrimRight(webhookBase, "/"),
		retry:       evolution.DefaultPolicy,
	}
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

// ClientByID loads one client row.
func (e *Engine) ClientByID(id int64) (*domain.ClientInstance, error) {
	var client domain.ClientInstance
	err := e.db.Where("id = ?", id).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// ClientByInstance resolves the webhook instance name to a tenant,
// matching either the stored instance name or the bare landing slug.
func (e *Engine) ClientByInstance(instance string) (*domain.ClientInstance, error) {
	var client domain.ClientInstance
	err := e.db.Where("instance_name = ? or landing_url = ?", instance, TenantFromInstance(instance)).
		First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// ClientByLanding resolves a landing page slug.
func (e *Engine) ClientByLanding(slug string) (*domain.ClientInstance, error) {
	var client domain.ClientInstance
	err := e.db.Where("landing_url = ?", slug).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (e *Engine) webhookURL(client *domain.ClientInstance) string {
	return fmt.Sprintf("%s/api/client/%d/webhook", e.webhookBase, client.ID)
}

// CreateClient registers a tenant, provisions its provider instance
// and leaves it waiting for a QR scan.
func (e *Engine) CreateClient(ctx context.Context, name, email, openaiKey, assistantID string) (*domain.ClientInstance, error) {
	slug := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	client := &domain.ClientInstance{
		ID:            common.UUIDint64(),
		Name:          name,
		Email:         email,
		InstanceName:  InstanceNameFor(slug),
		InstanceToken: uuid.NewString(),
		OpenaiApiKey:  openaiKey,
		AssistantId:   assistantID,
		Status:        domain.ClientStatusPending,
		LandingUrl:    slug,
	}
	if err := e.db.Create(client).Error; err != nil {
		return nil, err
	}

	if err := e.Provision(ctx, client); err != nil {
		zap.L().Error("instance provisioning failed",
			zap.String("namespace", "bot"),
			zap.Int64("client_id", client.ID),
			zap.Error(err))
		return client, err
	}

	e.bus.Publish(notify.TopicClientEvent, notify.Event{
		Kind:       notify.EventCreated,
		ClientID:   client.ID,
		ClientName: client.Name,
		Email:      client.Email,
	})
	return client, nil
}

// Provision creates the provider instance, subscribes its webhook and
// starts a pairing session.
func (e *Engine) Provision(ctx context.Context, client *domain.ClientInstance) error {
	err := e.retry.Do(ctx, evolution.IsTransient, func(ctx context.Context) error {
		return e.api.CreateInstance(ctx, client.InstanceName, client.InstanceToken)
	})
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}

	err = e.retry.Do(ctx, evolution.IsTransient, func(ctx context.Context) error {
		return e.api.SetWebhook(ctx, client.InstanceName, client.InstanceToken, e.webhookURL(client))
	})
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	qr, err := e.api.Connect(ctx, client.InstanceName, client.InstanceToken)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	e.setAwaitingScan(client, qr)
	return nil
}

func (e *Engine) setAwaitingScan(client *domain.ClientInstance, qr string) {
	now := time.Now()
	e.registry.Update(client.InstanceName, func(entry *Entry) {
		entry.Status = domain.ClientStatusAwaitingScan
		if qr != "" {
			entry.QRCode = qr
			entry.QRExpiry = now.Add(qrValidity)
		}
	})
	e.persistStatus(client, domain.ClientStatusAwaitingScan)
	e.publishUpdate(client, qr)
	if qr != "" {
		e.bus.Publish(notify.TopicClientEvent, notify.Event{
			Kind:       notify.EventQRGenerated,
			ClientID:   client.ID,
			ClientName: client.Name,
			Email:      client.Email,
		})
	}
}

func (e *Engine) persistStatus(client *domain.ClientInstance, status string) {
	client.Status = status
	updates := map[string]interface{}{"status": status, "connected_phone": client.ConnectedPhone}
	if err := e.db.Model(&domain.ClientInstance{}).Where("id = ?", client.ID).Updates(updates).Error; err != nil {
		zap.L().Error("status persist failed",
			zap.String("namespace", "bot"),
			zap.Int64("client_id", client.ID),
			zap.Error(err))
	}
}

func (e *Engine) publishUpdate(client *domain.ClientInstance, qr string) {
	e.bus.Publish(notify.TopicClientUpdate, notify.Update{
		ClientID:  client.ID,
		Status:    client.Status,
		Connected: client.Status == domain.ClientStatusActive,
		Phone:     client.ConnectedPhone,
		QRCode:    qr,
	})
}

// Apply routes one decoded lifecycle event into a transition. Inbound
// messages are not handled here, the dispatcher owns those.
func (e *Engine) Apply(client *domain.ClientInstance, ev Event) {
	switch event := ev.(type) {
	case QRUpdated:
		e.applyQRUpdated(client, event)
	case ConnectionUpdate:
		e.applyConnectionUpdate(client, event)
	case Unknown:
		e.registry.Update(client.InstanceName, func(entry *Entry) {
			entry.LastEventKind = event.Kind
			entry.LastEventRaw = event.Raw
			entry.LastEventAt = time.Now()
		})
		zap.L().Debug("ignoring webhook event",
			zap.String("namespace", "bot"),
			zap.String("event", event.Kind),
			zap.String("instance", client.InstanceName))
	}
}

// applyQRUpdated stores the rotated pairing code. A code arriving for
// an already connected instance is stale and dropped.
func (e *Engine) applyQRUpdated(client *domain.ClientInstance, ev QRUpdated) {
	if client.Status == domain.ClientStatusActive {
		zap.L().Debug("stale qr update for connected instance",
			zap.String("namespace", "bot"),
			zap.String("instance", client.InstanceName))
		return
	}
	if ev.Base64 == "" {
		return
	}
	e.setAwaitingScan(client, ev.Base64)
}

func (e *Engine) applyConnectionUpdate(client *domain.ClientInstance, ev ConnectionUpdate) {
	switch domain.NormalizeStatus(ev.State) {
	case domain.ClientStatusActive:
		e.applyConnected(client, ev.Phone)
	case domain.ClientStatusInactive:
		e.applyDisconnected(client)
	case domain.ClientStatusConnecting:
		e.registry.Update(client.InstanceName, func(entry *Entry) {
			entry.Status = domain.ClientStatusConnecting
		})
		e.persistStatus(client, domain.ClientStatusConnecting)
		e.publishUpdate(client, "")
	}
}

func (e *Engine) applyConnected(client *domain.ClientInstance, phone string) {
	if phone != "" {
		client.ConnectedPhone = phone
	}
	e.registry.Update(client.InstanceName, func(entry *Entry) {
		entry.Status = domain.ClientStatusActive
		entry.ConnectedPhone = client.ConnectedPhone
		entry.QRCode = ""
		entry.QRExpiry = time.Time{}
	})
	e.persistStatus(client, domain.ClientStatusActive)
	e.publishUpdate(client, "")
	e.bus.Publish(notify.TopicClientEvent, notify.Event{
		Kind:       notify.EventConnected,
		ClientID:   client.ID,
		ClientName: client.Name,
		Email:      client.Email,
		Phone:      client.ConnectedPhone,
	})
	zap.L().Info("instance connected",
		zap.String("namespace", "bot"),
		zap.String("instance", client.InstanceName),
		zap.String("phone", client.ConnectedPhone))
}

// applyDisconnected marks the instance inactive and clears every
// conversation artifact so a future session starts clean.
func (e *Engine) applyDisconnected(client *domain.ClientInstance) {
	client.ConnectedPhone = ""
	e.registry.Update(client.InstanceName, func(entry *Entry) {
		entry.Status = domain.ClientStatusInactive
		entry.ConnectedPhone = ""
		entry.QRCode = ""
		entry.QRExpiry = time.Time{}
	})
	e.persistStatus(client, domain.ClientStatusInactive)

	if err := e.db.Where("client_id = ?", client.ID).Delete(&domain.PauseRecord{}).Error; err != nil {
		zap.L().Error("pause cleanup failed",
			zap.String("namespace", "bot"),
			zap.Int64("client_id", client.ID),
			zap.Error(err))
	}
	if err := e.sessions.DeleteThreads(client.ID); err != nil {
		zap.L().Error("thread cleanup failed",
			zap.String("namespace", "bot"),
			zap.Int64("client_id", client.ID),
			zap.Error(err))
	}

	e.publishUpdate(client, "")
	e.bus.Publish(notify.TopicClientEvent, notify.Event{
		Kind:       notify.EventDisconnected,
		ClientID:   client.ID,
		ClientName: client.Name,
		Email:      client.Email,
	})
	zap.L().Info("instance disconnected",
		zap.String("namespace", "bot"),
		zap.String("instance", client.InstanceName))
}

// Toggle flips the connection: active instances log out, everything
// else starts a pairing session. Returns the resulting status.
func (e *Engine) Toggle(ctx context.Context, client *domain.ClientInstance) (string, error) {
	if client.Status == domain.ClientStatusActive {
		if err := e.Disconnect(ctx, client); err != nil {
			return client.Status, err
		}
		return client.Status, nil
	}
	if err := e.ConnectClient(ctx, client); err != nil {
		return client.Status, err
	}
	return client.Status, nil
}

// ConnectClient starts or restarts pairing for an existing tenant.
func (e *Engine) ConnectClient(ctx context.Context, client *domain.ClientInstance) error {
	var qr string
	err := e.recreateAndRetry(ctx, client, func(ctx context.Context) error {
		var err error
		qr, err = e.api.Connect(ctx, client.InstanceName, client.InstanceToken)
		return err
	})
	if err != nil {
		return err
	}
	e.setAwaitingScan(client, qr)
	return nil
}

// Disconnect logs the session out. Asking to disconnect an instance
// that is not connected is a caller error.
func (e *Engine) Disconnect(ctx context.Context, client *domain.ClientInstance) error {
	if client.Status != domain.ClientStatusActive {
		return ErrNotConnected
	}
	err := e.retry.Do(ctx, evolution.IsTransient, func(ctx context.Context) error {
		return e.api.Logout(ctx, client.InstanceName, client.InstanceToken)
	})
	if evolution.IsNotConnected(err) {
		return ErrNotConnected
	}
	if err != nil && !evolution.IsNotFound(err) {
		return err
	}
	e.applyDisconnected(client)
	return nil
}

// recreateAndRetry runs op, and when the provider lost the instance
// re-provisions it and tries op once more. The rebuild happens at most
// one time per call, never recursively.
func (e *Engine) recreateAndRetry(ctx context.Context, client *domain.ClientInstance, op func(ctx context.Context) error) error {
	err := e.retry.Do(ctx, evolution.IsTransient, op)
	if err == nil || !evolution.IsNotFound(err) {
		return err
	}

	zap.L().Warn("instance missing at provider, recreating",
		zap.String("namespace", "bot"),
		zap.String("instance", client.InstanceName))
	e.cache.Forget(client.InstanceName)

	if err := e.retry.Do(ctx, evolution.IsTransient, func(ctx context.Context) error {
		return e.api.CreateInstance(ctx, client.InstanceName, client.InstanceToken)
	}); err != nil {
		return fmt.Errorf("recreate instance: %w", err)
	}
	if err := e.api.SetWebhook(ctx, client.InstanceName, client.InstanceToken, e.webhookURL(client)); err != nil {
		return fmt.Errorf("rebind webhook: %w", err)
	}
	return e.retry.Do(ctx, evolution.IsTransient, op)
}

// StatusFor reconciles the stored status against the provider.
func (e *Engine) StatusFor(ctx context.Context, client *domain.ClientInstance) (string, error) {
	var state string
	err := e.recreateAndRetry(ctx, client, func(ctx context.Context) error {
		var err error
		state, err = e.api.ConnectionState(ctx, client.InstanceName, client.InstanceToken)
		return err
	})
	if err != nil {
		return client.Status, err
	}
	normalized := domain.NormalizeStatus(state)
	if normalized == domain.ClientStatusActive && client.Status != domain.ClientStatusActive {
		e.applyConnected(client, "")
	} else if normalized == domain.ClientStatusInactive && client.Status == domain.ClientStatusActive {
		e.applyDisconnected(client)
	}
	return client.Status, nil
}

// QRFor returns a scannable pairing code, refreshing it from the
// provider once the cached one rotated out.
func (e *Engine) QRFor(ctx context.Context, client *domain.ClientInstance) (string, error) {
	if client.Status == domain.ClientStatusActive {
		return "", nil
	}
	if entry, ok := e.registry.Snapshot(client.InstanceName); ok {
		if qr := entry.ValidQR(time.Now()); qr != "" {
			return qr, nil
		}
	}
	var qr string
	err := e.recreateAndRetry(ctx, client, func(ctx context.Context) error {
		var err error
		qr, err = e.api.FetchQR(ctx, client.InstanceName, client.InstanceToken)
		return err
	})
	if err != nil {
		return "", err
	}
	if qr != "" {
		e.setAwaitingScan(client, qr)
	}
	return qr, nil
}

// SendText delivers one outbound message through the cached instance
// handle, rebuilding the provider instance if it vanished.
func (e *Engine) SendText(ctx context.Context, client *domain.ClientInstance, phone, text string) error {
	handle := e.cache.Get(client.InstanceName, client.InstanceToken)
	return e.recreateAndRetry(ctx, client, func(ctx context.Context) error {
		return handle.SendText(ctx, phone, text)
	})
}

// DeleteTenant removes the tenant everywhere: provider instance,
// conversation state and the client row itself.
func (e *Engine) DeleteTenant(ctx context.Context, client *domain.ClientInstance) error {
	err := e.retry.Do(ctx, evolution.IsTransient, func(ctx context.Context) error {
		return e.api.DeleteInstance(ctx, client.InstanceName, client.InstanceToken)
	})
	if err != nil && !evolution.IsNotFound(err) {
		return fmt.Errorf("delete provider instance: %w", err)
	}

	for _, model := range []interface{}{&domain.PauseRecord{}, &domain.ConversationThread{}, &domain.ChatMessage{}} {
		if err := e.db.Where("client_id = ?", client.ID).Delete(model).Error; err != nil {
			return err
		}
	}
	if err := e.db.Delete(&domain.ClientInstance{}, client.ID).Error; err != nil {
		return err
	}

	e.cache.Forget(client.InstanceName)
	e.registry.Delete(client.InstanceName)
	e.sessions.Forget(client.ID)

	e.bus.Publish(notify.TopicClientEvent, notify.Event{
		Kind:       notify.EventDeleted,
		ClientID:   client.ID,
		ClientName: client.Name,
		Email:      client.Email,
	})
	zap.L().Info("tenant deleted",
		zap.String("namespace", "bot"),
		zap.String("instance", client.InstanceName))
	return nil
}
