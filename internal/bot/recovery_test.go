package bot

import (
	"context"
	"testing"

	"github.com/ArvalTIKS/evolution-assistant/internal/domain"
	"github.com/ArvalTIKS/evolution-assistant/internal/evolution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMonitor(f *botFixture) *Monitor {
	return NewMonitor(f.db, f.engine, f.api, f.bus)
}

func TestHealthyInstanceIsLeftAlone(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)
	f.api.state = "open"

	newMonitor(f).checkClient(context.Background(), client)

	assert.Equal(t, 0, f.api.callCount("logout"))
	assert.Equal(t, 0, f.api.callCount("connect"))
}

func TestUnhealthyInstanceIsRestarted(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)
	f.api.state = "close"

	// cancelled context lets the restart skip the settle wait
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := newMonitor(f)
	m.checkClient(ctx, client)

	assert.Equal(t, 1, f.api.callCount("logout"))
	assert.True(t, m.inCooldown(client.InstanceName))
}

func TestVanishedInstanceIsRestarted(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)
	f.api.stateErr = &evolution.APIError{Status: 404, Message: "instance does not exist"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := newMonitor(f)
	m.checkClient(ctx, client)

	assert.Equal(t, 1, f.api.callCount("logout"))
	assert.True(t, m.inCooldown(client.InstanceName))
}

func TestCooldownSuppressesRepeatedRestarts(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)
	f.api.state = "close"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := newMonitor(f)
	m.checkClient(ctx, client)
	m.checkClient(ctx, client)

	assert.Equal(t, 1, f.api.callCount("logout"))
}

func TestTransientStateErrorDoesNotRestart(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)
	f.api.stateErr = &evolution.APIError{Status: 502, Message: "bad gateway"}

	m := newMonitor(f)
	m.checkClient(context.Background(), client)

	assert.Equal(t, 0, f.api.callCount("logout"))
	assert.False(t, m.inCooldown(client.InstanceName))
}

func TestSweepOnlyChecksActiveClients(t *testing.T) {
	f := newFixture(t)
	f.seedClient(t, domain.ClientStatusActive)
	inactive := &domain.ClientInstance{
		ID: 2002, Name: "globex", InstanceName: "inst_globex",
		LandingUrl: "globex", Status: domain.ClientStatusInactive,
	}
	require.NoError(t, f.db.Create(inactive).Error)
	f.api.state = "open"

	m := newMonitor(f)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.NoError(t, m.sweep(context.Background()))
	assert.Equal(t, 1, f.api.callCount("state"))
}
