package bot

import (
	"context"
	"sync"
	"time"

	"github.com/ArvalTIKS/evolution-assistant/internal/domain"
	"github.com/ArvalTIKS/evolution-assistant/internal/evolution"
	"github.com/ArvalTIKS/evolution-assistant/internal/notify"
	"github.com/ArvalTIKS/evolution-assistant/pkg/metrics"
	"github.com/asaskevich/EventBus"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// recoveryInterval is the sweep cadence over connected instances.
	recoveryInterval = 30 * time.Second
	// recoveryErrorBackoff delays the next sweep after a failed one.
	recoveryErrorBackoff = 60 * time.Second
	// logoutSettle gives the provider time to tear the session down
	// before reconnecting.
	logoutSettle = 5 * time.Second
	// restartCooldown keeps the monitor from hammering an instance
	// that was just restarted.
	restartCooldown = 45 * time.Second
	// recoveryWorkers bounds concurrent provider checks per sweep.
	recoveryWorkers = 8
)

// Monitor watches instances the database believes are connected and
// restarts sessions the provider silently dropped.
type Monitor struct {
	db     *gorm.DB
	engine *Engine
	api    evolution.API
	bus    EventBus.Bus

	pool        *ants.Pool
	sweepTicker *time.Ticker
	stopChan    chan struct{}

	mu        sync.Mutex
	cooldowns map[string]time.Time
}

func NewMonitor(db *gorm.DB, engine *Engine, api evolution.API, bus EventBus.Bus) *Monitor {
	return &Monitor{
		db:        db,
		engine:    engine,
		api:       api,
		bus:       bus,
		stopChan:  make(chan struct{}),
		cooldowns: make(map[string]time.Time),
	}
}

// Start begins periodic recovery sweeps.
func (m *Monitor) Start(ctx context.Context) error {
	pool, err := ants.NewPool(recoveryWorkers, ants.WithNonblocking(false))
	if err != nil {
		return err
	}
	m.pool = pool
	m.sweepTicker = time.NewTicker(recoveryInterval)
	go m.sweepLoop(ctx)

	zap.L().Info("recovery monitor started",
		zap.String("namespace", "recovery"),
		zap.Duration("interval", recoveryInterval))
	return nil
}

// Stop gracefully stops the monitor.
func (m *Monitor) Stop() {
	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	if m.pool != nil {
		m.pool.Release()
	}
	close(m.stopChan)
	zap.L().Info("recovery monitor stopped", zap.String("namespace", "recovery"))
}

func (m *Monitor) sweepLoop(ctx context.Context) {
	for {
		select {
		case <-m.sweepTicker.C:
			if err := m.sweep(ctx); err != nil {
				zap.L().Error("recovery sweep failed",
					zap.String("namespace", "recovery"),
					zap.Error(err))
				m.sweepTicker.Reset(recoveryErrorBackoff)
			} else {
				m.sweepTicker.Reset(recoveryInterval)
			}
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep checks every instance marked active against the provider.
func (m *Monitor) sweep(ctx context.Context) error {
	var clients []domain.ClientInstance
	err := m.db.Where("status = ?", domain.ClientStatusActive).Find(&clients).Error
	if err != nil {
		return err
	}

	metrics.SetGauge("assistant_active_instances", int64(len(clients)))

	var wg sync.WaitGroup
	for i := range clients {
		client := clients[i]
		wg.Add(1)
		submitErr := m.pool.Submit(func() {
			defer wg.Done()
			m.checkClient(ctx, &client)
		})
		if submitErr != nil {
			wg.Done()
			zap.L().Warn("recovery task submit failed",
				zap.String("namespace", "recovery"),
				zap.Error(submitErr))
		}
	}
	wg.Wait()
	return nil
}

// checkClient verifies one session and restarts it when the provider
// reports it gone.
func (m *Monitor) checkClient(ctx context.Context, client *domain.ClientInstance) {
	if m.inCooldown(client.InstanceName) {
		return
	}

	state, err := m.api.ConnectionState(ctx, client.InstanceName, client.InstanceToken)
	if err != nil {
		if evolution.IsNotFound(err) {
			// the provider lost the instance entirely, rebuild and
			// force a new pairing
			zap.L().Warn("instance vanished at provider",
				zap.String("namespace", "recovery"),
				zap.String("instance", client.InstanceName))
			m.restart(ctx, client)
			return
		}
		zap.L().Warn("connection state check failed",
			zap.String("namespace", "recovery"),
			zap.String("instance", client.InstanceName),
			zap.Error(err))
		return
	}

	if domain.NormalizeStatus(state) == domain.ClientStatusActive {
		return
	}

	zap.L().Info("connected instance reported unhealthy, restarting",
		zap.String("namespace", "recovery"),
		zap.String("instance", client.InstanceName),
		zap.String("provider_state", state))
	m.restart(ctx, client)
}

// restart tears the session down and starts a fresh pairing attempt.
func (m *Monitor) restart(ctx context.Context, client *domain.ClientInstance) {
	m.setCooldown(client.InstanceName)
	metrics.SetGauge("assistant_recovery_restarts", 1)

	if err := m.api.Logout(ctx, client.InstanceName, client.InstanceToken); err != nil && !evolution.IsNotFound(err) {
		zap.L().Warn("recovery logout failed",
			zap.String("namespace", "recovery"),
			zap.String("instance", client.InstanceName),
			zap.Error(err))
	}

	select {
	case <-time.After(logoutSettle):
	case <-ctx.Done():
		return
	}

	if err := m.engine.ConnectClient(ctx, client); err != nil {
		zap.L().Error("recovery reconnect failed",
			zap.String("namespace", "recovery"),
			zap.String("instance", client.InstanceName),
			zap.Error(err))
		return
	}

	if m.bus != nil {
		m.bus.Publish(notify.TopicClientEvent, notify.Event{
			Kind:       notify.EventRestarted,
			ClientID:   client.ID,
			ClientName: client.Name,
			Email:      client.Email,
		})
	}
}

func (m *Monitor) inCooldown(instance string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.cooldowns[instance]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(m.cooldowns, instance)
		return false
	}
	return true
}

func (m *Monitor) setCooldown(instance string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldowns[instance] = time.Now().Add(restartCooldown)
}
