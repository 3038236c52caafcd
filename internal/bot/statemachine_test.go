package bot

import (
	"context"
	"testing"
	"time"

	"github.com/ArvalTIKS/evolution-assistant/internal/domain"
	"github.com/ArvalTIKS/evolution-assistant/internal/evolution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateClientProvisionsInstance(t *testing.T) {
	f := newFixture(t)

	client, err := f.engine.CreateClient(context.Background(), "acme", "owner@acme.test", "sk-1", "asst_1")
	require.NoError(t, err)

	assert.Equal(t, domain.ClientStatusAwaitingScan, client.Status)
	assert.True(t, len(client.LandingUrl) > 0)
	assert.Equal(t, InstanceNameFor(client.LandingUrl), client.InstanceName)
	assert.NotEmpty(t, client.InstanceToken)

	assert.Equal(t, 1, f.api.callCount("create"))
	assert.Equal(t, 1, f.api.callCount("webhook"))
	assert.Equal(t, 1, f.api.callCount("connect"))
	require.Len(t, f.api.webhookURLs, 1)
	assert.Contains(t, f.api.webhookURLs[0], "http://hooks.local/api/client/")

	entry, ok := f.engine.Registry().Snapshot(client.InstanceName)
	require.True(t, ok)
	assert.Equal(t, domain.ClientStatusAwaitingScan, entry.Status)
	assert.NotEmpty(t, entry.ValidQR(time.Now()))
}

func TestConnectionOpenActivatesClient(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusAwaitingScan)

	f.engine.Apply(client, ConnectionUpdate{State: "open", Phone: "549111234567"})

	stored := f.reload(t, client.ID)
	assert.Equal(t, domain.ClientStatusActive, stored.Status)
	assert.Equal(t, "549111234567", stored.ConnectedPhone)

	entry, ok := f.engine.Registry().Snapshot(client.InstanceName)
	require.True(t, ok)
	assert.Equal(t, domain.ClientStatusActive, entry.Status)
	assert.Empty(t, entry.QRCode)
}

func TestDisconnectCascadesConversationState(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)
	require.NoError(t, f.db.Create(&domain.PauseRecord{
		ID: 1, ClientId: client.ID, PhoneNumber: "549119999999", PausedBy: domain.PausedByClient,
	}).Error)
	require.NoError(t, f.db.Create(&domain.ConversationThread{
		ID: 1, ClientId: client.ID, PhoneNumber: "549119999999", ExternalThreadId: "thread_1",
	}).Error)

	f.engine.Apply(client, ConnectionUpdate{State: "close"})

	stored := f.reload(t, client.ID)
	assert.Equal(t, domain.ClientStatusInactive, stored.Status)
	assert.Empty(t, stored.ConnectedPhone)

	var pauses, threads int64
	f.db.Model(&domain.PauseRecord{}).Where("client_id = ?", client.ID).Count(&pauses)
	f.db.Model(&domain.ConversationThread{}).Where("client_id = ?", client.ID).Count(&threads)
	assert.Zero(t, pauses)
	assert.Zero(t, threads)
}

func TestStaleQRIgnoredWhileConnected(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)

	f.engine.Apply(client, QRUpdated{Base64: "data:image/png;base64,STALE"})

	stored := f.reload(t, client.ID)
	assert.Equal(t, domain.ClientStatusActive, stored.Status)
	entry, ok := f.engine.Registry().Snapshot(client.InstanceName)
	if ok {
		assert.Empty(t, entry.QRCode)
	}
}

func TestQRUpdatedRefreshesWaitingClient(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusAwaitingScan)

	f.engine.Apply(client, QRUpdated{Base64: "data:image/png;base64,FRESH"})

	entry, ok := f.engine.Registry().Snapshot(client.InstanceName)
	require.True(t, ok)
	assert.Equal(t, "data:image/png;base64,FRESH", entry.ValidQR(time.Now()))
	assert.Empty(t, entry.ValidQR(time.Now().Add(qrValidity+time.Second)))
}

func TestToggleDisconnectsActiveClient(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)

	status, err := f.engine.Toggle(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, domain.ClientStatusInactive, status)
	assert.Equal(t, 1, f.api.callCount("logout"))
}

func TestToggleReconnectsInactiveClient(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusInactive)

	status, err := f.engine.Toggle(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, domain.ClientStatusAwaitingScan, status)
	assert.Equal(t, 1, f.api.callCount("connect"))
}

func TestDisconnectRequiresActiveSession(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusInactive)

	err := f.engine.Disconnect(context.Background(), client)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDisconnectNotConnectedAtProviderIsConflict(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)
	f.api.logoutErr = &evolution.APIError{Status: 400, Message: "Instance not connected"}

	err := f.engine.Disconnect(context.Background(), client)
	assert.ErrorIs(t, err, ErrNotConnected)

	// the session was never torn down locally
	stored := f.reload(t, client.ID)
	assert.Equal(t, domain.ClientStatusActive, stored.Status)
}

func TestUnknownEventIsRecordedOnRuntimeEntry(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)

	f.engine.Apply(client, Unknown{
		Kind: "presence.update",
		Raw:  map[string]interface{}{"presence": "composing"},
	})

	entry, ok := f.engine.Registry().Snapshot(client.InstanceName)
	require.True(t, ok)
	assert.Equal(t, "presence.update", entry.LastEventKind)
	assert.Equal(t, "composing", entry.LastEventRaw["presence"])
	assert.False(t, entry.LastEventAt.IsZero())
}

func TestSendTextRetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)
	f.api.sendErr = &evolution.APIError{Status: 502, Message: "bad gateway"}
	f.api.sendErrOnce = true

	err := f.engine.SendText(context.Background(), client, "549119999999", "hola")
	require.NoError(t, err)
	assert.Equal(t, 2, f.api.callCount("send"))
}

func TestSendTextSurfacesExhaustedRetries(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)
	f.api.sendErr = &evolution.APIError{Status: 503, Message: "unavailable"}

	err := f.engine.SendText(context.Background(), client, "549119999999", "hola")
	require.Error(t, err)
	assert.True(t, evolution.IsTransient(err))
	assert.Equal(t, 3, f.api.callCount("send"))
}

func TestSendTextRecreatesMissingInstance(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)
	f.api.sendErr = &evolution.APIError{Status: 404, Message: "instance does not exist"}
	f.api.sendErrOnce = true

	err := f.engine.SendText(context.Background(), client, "549119999999", "hola")
	require.NoError(t, err)
	// rebuild happened exactly once: create, webhook, then the resend
	assert.Equal(t, 1, f.api.callCount("create"))
	assert.Equal(t, 1, f.api.callCount("webhook"))
	assert.Equal(t, 2, f.api.callCount("send"))
}

func TestSendTextDoesNotRecreateTwice(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)
	f.api.sendErr = &evolution.APIError{Status: 404, Message: "instance does not exist"}

	err := f.engine.SendText(context.Background(), client, "549119999999", "hola")
	require.Error(t, err)
	assert.True(t, evolution.IsNotFound(err))
	assert.Equal(t, 1, f.api.callCount("create"))
}

func TestQRForServesCachedCode(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusAwaitingScan)
	f.engine.Apply(client, QRUpdated{Base64: "data:image/png;base64,CACHED"})

	qr, err := f.engine.QRFor(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,CACHED", qr)
	assert.Equal(t, 0, f.api.callCount("fetchqr"))
}

func TestQRForRefreshesExpiredCode(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusAwaitingScan)

	qr, err := f.engine.QRFor(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,QR", qr)
	assert.Equal(t, 1, f.api.callCount("fetchqr"))
}

func TestQRForConnectedClientIsEmpty(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)

	qr, err := f.engine.QRFor(context.Background(), client)
	require.NoError(t, err)
	assert.Empty(t, qr)
}

func TestStatusForReconcilesProviderState(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusAwaitingScan)
	f.api.state = "open"

	status, err := f.engine.StatusFor(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, domain.ClientStatusActive, status)
	assert.Equal(t, domain.ClientStatusActive, f.reload(t, client.ID).Status)
}

func TestDeleteTenantRemovesEverything(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)
	require.NoError(t, f.db.Create(&domain.ChatMessage{
		ID: 1, ClientId: client.ID, PhoneNumber: "549119999999",
		Direction: domain.MessageInbound, Content: "hola",
	}).Error)

	require.NoError(t, f.engine.DeleteTenant(context.Background(), client))

	assert.Equal(t, 1, f.api.callCount("delete"))
	var count int64
	f.db.Model(&domain.ClientInstance{}).Count(&count)
	assert.Zero(t, count)
	f.db.Model(&domain.ChatMessage{}).Count(&count)
	assert.Zero(t, count)
	_, err := f.engine.ClientByID(client.ID)
	assert.ErrorIs(t, err, ErrClientNotFound)
}
