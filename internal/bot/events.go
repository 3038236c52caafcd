// Package bot implements the WhatsApp side of the platform: instance
// lifecycle, webhook routing, the pause gate and session recovery.
package bot

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// instancePrefix is prepended to provider instance names so tenants
// never collide with foreign instances on a shared deployment.
const instancePrefix = "inst_"

// Envelope is the raw webhook payload from the provider.
type Envelope struct {
	Event    string                 `json:"event"`
	Instance string                 `json:"instance"`
	Data     map[string]interface{} `json:"data"`
}

// Event is the decoded form of a webhook. Exactly one of the concrete
// types below comes out of DecodeEvent.
type Event interface {
	isEvent()
}

// QRUpdated carries a fresh pairing code for an instance waiting to be
// scanned.
type QRUpdated struct {
	Base64 string
}

// ConnectionUpdate reports a session state change. Phone is set only
// when the update announces an established session.
type ConnectionUpdate struct {
	State string
	Phone string
}

// MessagesUpsert is one inbound text from a WhatsApp contact.
type MessagesUpsert struct {
	Phone  string
	Text   string
	FromMe bool
}

// Unknown keeps unrecognized events visible for logging.
type Unknown struct {
	Kind string
	Raw  map[string]interface{}
}

func (QRUpdated) isEvent()        {}
func (ConnectionUpdate) isEvent() {}
func (MessagesUpsert) isEvent()   {}
func (Unknown) isEvent()          {}

// ParseEnvelope decodes the webhook body.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

type qrData struct {
	QRCode struct {
		Base64 string `mapstructure:"base64"`
	} `mapstructure:"qrcode"`
	Base64 string `mapstructure:"base64"`
}

type connectionData struct {
	Status string `mapstructure:"status"`
	State  string `mapstructure:"state"`
	User   struct {
		ID string `mapstructure:"id"`
	} `mapstructure:"user"`
	Wuid string `mapstructure:"wuid"`
}

type messageKey struct {
	RemoteJid string `mapstructure:"remoteJid"`
	FromMe    bool   `mapstructure:"fromMe"`
}

type upsertMessage struct {
	Key  messageKey `mapstructure:"key"`
	Text struct {
		Body string `mapstructure:"body"`
	} `mapstructure:"text"`
}

type upsertData struct {
	// newer provider versions deliver a messages array, older ones a
	// single flat key+message pair
	Messages []upsertMessage `mapstructure:"messages"`
	Key      messageKey      `mapstructure:"key"`
	Message  struct {
		Conversation    string `mapstructure:"conversation"`
		ExtendedMessage struct {
			Text string `mapstructure:"text"`
		} `mapstructure:"extendedTextMessage"`
	} `mapstructure:"message"`
}

// DecodeEvent classifies the envelope into the closed event set. The
// provider emits event names in dotted lower case ("qrcode.updated")
// or upper snake case ("QRCODE_UPDATED") depending on version.
func DecodeEvent(env *Envelope) (Event, error) {
	switch normalizeEventName(env.Event) {
	case "qrcode.updated":
		var d qrData
		if err := mapstructure.Decode(env.Data, &d); err != nil {
			return nil, err
		}
		qr := d.Base64
		if qr == "" {
			qr = d.QRCode.Base64
		}
		return QRUpdated{Base64: qr}, nil

	case "connection.update":
		var d connectionData
		if err := mapstructure.Decode(env.Data, &d); err != nil {
			return nil, err
		}
		state := d.Status
		if state == "" {
			state = d.State
		}
		jid := d.User.ID
		if jid == "" {
			jid = d.Wuid
		}
		return ConnectionUpdate{State: state, Phone: PhoneFromJid(jid)}, nil

	case "messages.upsert":
		var d upsertData
		if err := mapstructure.Decode(env.Data, &d); err != nil {
			return nil, err
		}
		if len(d.Messages) > 0 {
			first := d.Messages[0]
			return MessagesUpsert{
				Phone:  PhoneFromJid(first.Key.RemoteJid),
				Text:   first.Text.Body,
				FromMe: first.Key.FromMe,
			}, nil
		}
		text := d.Message.Conversation
		if text == "" {
			text = d.Message.ExtendedMessage.Text
		}
		return MessagesUpsert{
			Phone:  PhoneFromJid(d.Key.RemoteJid),
			Text:   text,
			FromMe: d.Key.FromMe,
		}, nil

	default:
		return Unknown{Kind: env.Event, Raw: env.Data}, nil
	}
}

func normalizeEventName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", ".")
}

// PhoneFromJid strips the WhatsApp jid suffix, e.g.
// "549111234567@s.whatsapp.net" becomes "549111234567".
func PhoneFromJid(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// TenantFromInstance maps a provider instance name back to the tenant
// landing slug by dropping the shared prefix.
func TenantFromInstance(instance string) string {
	return strings.TrimPrefix(instance, instancePrefix)
}

// InstanceNameFor builds the provider instance name of a tenant.
func InstanceNameFor(slug string) string {
	return instancePrefix + slug
}
