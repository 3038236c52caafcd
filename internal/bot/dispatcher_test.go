package bot

import (
	"context"
	"fmt"
	"testing"

	"github.com/ArvalTIKS/evolution-assistant/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upsertBody(phone, text string, fromMe bool) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "messages.upsert",
		"instance": "inst_acme",
		"data": {
			"key": {"remoteJid": "%s@s.whatsapp.net", "fromMe": %t},
			"message": {"conversation": %q}
		}
	}`, phone, fromMe, text))
}

func TestWebhookUnknownClientIsDropped(t *testing.T) {
	f := newFixture(t)
	// must not panic or write anything
	f.dispatcher.HandleWebhook(context.Background(), 999999, upsertBody("549119999999", "hola", false))

	var count int64
	f.db.Model(&domain.ChatMessage{}).Count(&count)
	assert.Zero(t, count)
}

func TestWebhookResolvesByInstanceName(t *testing.T) {
	f := newFixture(t)
	f.seedClient(t, domain.ClientStatusActive)

	// the URL id is stale but the envelope names a known instance
	f.dispatcher.HandleWebhook(context.Background(), 424242, upsertBody("549119999999", "hola", false))

	require.Len(t, f.api.sentMessages, 1)
	assert.Equal(t, "549119999999:respuesta del asistente", f.api.sentMessages[0])
}

func TestWebhookMalformedBodyIsDropped(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)
	f.dispatcher.HandleWebhook(context.Background(), client.ID, []byte("{not json"))
	assert.Equal(t, 0, f.api.callCount("send"))
}

func TestInboundMessageGetsAssistantReply(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)

	f.dispatcher.HandleWebhook(context.Background(), client.ID, upsertBody("549119999999", "hola, quiero info", false))

	require.Len(t, f.api.sentMessages, 1)
	assert.Equal(t, "549119999999:respuesta del asistente", f.api.sentMessages[0])

	var messages []domain.ChatMessage
	require.NoError(t, f.db.Where("client_id = ?", client.ID).Order("id").Find(&messages).Error)
	require.Len(t, messages, 2)
	assert.Equal(t, domain.MessageInbound, messages[0].Direction)
	assert.Equal(t, "hola, quiero info", messages[0].Content)
	assert.Equal(t, domain.MessageOutbound, messages[1].Direction)
	assert.Equal(t, "respuesta del asistente", messages[1].Content)
}

func TestPausedConversationStoresButDoesNotReply(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)
	f.gate.Execute(client, "549119999999", "pausar")

	f.dispatcher.HandleWebhook(context.Background(), client.ID, upsertBody("549119999999", "sigo esperando", false))

	assert.Empty(t, f.api.sentMessages)
	var count int64
	f.db.Model(&domain.ChatMessage{}).Where("client_id = ? and direction = ?", client.ID, domain.MessageInbound).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestGlobalPauseSilencesAllConversations(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)
	f.gate.Execute(client, "549111111111", "pausar todo")

	f.dispatcher.HandleWebhook(context.Background(), client.ID, upsertBody("549119999999", "hola", false))
	f.dispatcher.HandleWebhook(context.Background(), client.ID, upsertBody("549118888888", "hola", false))

	assert.Empty(t, f.api.sentMessages)
}

func TestOwnerCommandIsExecutedAndConfirmed(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)

	f.dispatcher.HandleWebhook(context.Background(), client.ID, upsertBody("549111234567", "pausar", true))

	require.Len(t, f.api.sentMessages, 1)
	assert.Equal(t, "549111234567:✅ Conversación pausada.", f.api.sentMessages[0])

	paused, err := f.gate.IsPaused(client.ID, "549111234567")
	require.NoError(t, err)
	assert.True(t, paused)
}

func TestOwnerNonCommandTextIsIgnored(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)

	f.dispatcher.HandleWebhook(context.Background(), client.ID, upsertBody("549119999999", "gracias, te aviso", true))

	assert.Empty(t, f.api.sentMessages)
	var count int64
	f.db.Model(&domain.ChatMessage{}).Count(&count)
	assert.Zero(t, count)
}

func TestContactCannotRunCommands(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)

	// a contact typing "pausar" gets no response at all, the command
	// vocabulary never reaches the assistant
	f.dispatcher.HandleWebhook(context.Background(), client.ID, upsertBody("549119999999", "pausar", false))

	assert.Empty(t, f.api.sentMessages)

	paused, err := f.gate.IsPaused(client.ID, "549119999999")
	require.NoError(t, err)
	assert.False(t, paused)

	var count int64
	f.db.Model(&domain.ChatMessage{}).Count(&count)
	assert.Zero(t, count)
}

func TestEmptyMessageIsIgnored(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusActive)

	f.dispatcher.HandleWebhook(context.Background(), client.ID, upsertBody("549119999999", "", false))

	assert.Empty(t, f.api.sentMessages)
}

func TestConnectionEventsRouteToEngine(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, domain.ClientStatusAwaitingScan)

	body := []byte(`{
		"event": "connection.update",
		"instance": "inst_acme",
		"data": {"state": "open", "user": {"id": "549111234567@s.whatsapp.net"}}
	}`)
	f.dispatcher.HandleWebhook(context.Background(), client.ID, body)

	stored := f.reload(t, client.ID)
	assert.Equal(t, domain.ClientStatusActive, stored.Status)
	assert.Equal(t, "549111234567", stored.ConnectedPhone)
}
