package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, body string) Event {
	t.Helper()
	env, err := ParseEnvelope([]byte(body))
	require.NoError(t, err)
	ev, err := DecodeEvent(env)
	require.NoError(t, err)
	return ev
}

func TestDecodeQRUpdated(t *testing.T) {
	ev := decode(t, `{
		"event": "qrcode.updated",
		"instance": "inst_acme",
		"data": {"qrcode": {"base64": "data:image/png;base64,AAAA"}}
	}`)
	qr, ok := ev.(QRUpdated)
	require.True(t, ok)
	assert.Equal(t, "data:image/png;base64,AAAA", qr.Base64)
}

func TestDecodeQRUpdatedFlatShape(t *testing.T) {
	ev := decode(t, `{
		"event": "QRCODE_UPDATED",
		"instance": "inst_acme",
		"data": {"base64": "data:image/png;base64,BBBB"}
	}`)
	qr, ok := ev.(QRUpdated)
	require.True(t, ok)
	assert.Equal(t, "data:image/png;base64,BBBB", qr.Base64)
}

func TestDecodeConnectionUpdateOpen(t *testing.T) {
	ev := decode(t, `{
		"event": "connection.update",
		"instance": "inst_acme",
		"data": {"state": "open", "user": {"id": "549111234567@s.whatsapp.net"}}
	}`)
	upd, ok := ev.(ConnectionUpdate)
	require.True(t, ok)
	assert.Equal(t, "open", upd.State)
	assert.Equal(t, "549111234567", upd.Phone)
}

func TestDecodeConnectionUpdateStatusField(t *testing.T) {
	ev := decode(t, `{
		"event": "connection.update",
		"instance": "inst_acme",
		"data": {"status": "open", "user": {"id": "549111234567@s.whatsapp.net"}}
	}`)
	upd, ok := ev.(ConnectionUpdate)
	require.True(t, ok)
	assert.Equal(t, "open", upd.State)
	assert.Equal(t, "549111234567", upd.Phone)
}

func TestDecodeConnectionUpdateClose(t *testing.T) {
	ev := decode(t, `{
		"event": "CONNECTION_UPDATE",
		"instance": "inst_acme",
		"data": {"state": "close"}
	}`)
	upd, ok := ev.(ConnectionUpdate)
	require.True(t, ok)
	assert.Equal(t, "close", upd.State)
	assert.Empty(t, upd.Phone)
}

func TestDecodeMessagesUpsert(t *testing.T) {
	ev := decode(t, `{
		"event": "messages.upsert",
		"instance": "inst_acme",
		"data": {
			"key": {"remoteJid": "549119999999@s.whatsapp.net", "fromMe": false},
			"message": {"conversation": "hola, quiero info"}
		}
	}`)
	msg, ok := ev.(MessagesUpsert)
	require.True(t, ok)
	assert.Equal(t, "549119999999", msg.Phone)
	assert.Equal(t, "hola, quiero info", msg.Text)
	assert.False(t, msg.FromMe)
}

func TestDecodeMessagesUpsertArrayShape(t *testing.T) {
	ev := decode(t, `{
		"event": "messages.upsert",
		"instance": "inst_acme",
		"data": {
			"messages": [{
				"key": {"remoteJid": "549111234567@s.whatsapp.net", "fromMe": false},
				"text": {"body": "pausar"}
			}]
		}
	}`)
	msg, ok := ev.(MessagesUpsert)
	require.True(t, ok)
	assert.Equal(t, "549111234567", msg.Phone)
	assert.Equal(t, "pausar", msg.Text)
	assert.False(t, msg.FromMe)
}

func TestDecodeMessagesUpsertExtendedText(t *testing.T) {
	ev := decode(t, `{
		"event": "messages.upsert",
		"instance": "inst_acme",
		"data": {
			"key": {"remoteJid": "549119999999@s.whatsapp.net", "fromMe": true},
			"message": {"extendedTextMessage": {"text": "pausar"}}
		}
	}`)
	msg, ok := ev.(MessagesUpsert)
	require.True(t, ok)
	assert.Equal(t, "pausar", msg.Text)
	assert.True(t, msg.FromMe)
}

func TestDecodeUnknownEvent(t *testing.T) {
	ev := decode(t, `{"event": "presence.update", "instance": "inst_acme", "data": {}}`)
	unknown, ok := ev.(Unknown)
	require.True(t, ok)
	assert.Equal(t, "presence.update", unknown.Kind)
	assert.NotNil(t, unknown.Raw)
}

func TestPhoneFromJid(t *testing.T) {
	assert.Equal(t, "549111234567", PhoneFromJid("549111234567@s.whatsapp.net"))
	assert.Equal(t, "549111234567", PhoneFromJid("549111234567"))
	assert.Equal(t, "", PhoneFromJid("@s.whatsapp.net"))
}

func TestInstanceNaming(t *testing.T) {
	assert.Equal(t, "inst_acme42", InstanceNameFor("acme42"))
	assert.Equal(t, "acme42", TenantFromInstance("inst_acme42"))
	assert.Equal(t, "bare", TenantFromInstance("bare"))
}
