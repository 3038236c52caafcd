package bot

import (
	"context"

	"github.com/ArvalTIKS/evolution-assistant/internal/assistant"
	"github.com/ArvalTIKS/evolution-assistant/internal/domain"
	"github.com/ArvalTIKS/evolution-assistant/pkg/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dispatcher routes webhook deliveries: lifecycle events into the
// engine, inbound messages through the pause gate and the assistant.
type Dispatcher struct {
	db       *gorm.DB
	engine   *Engine
	gate     *Gate
	sessions *assistant.SessionManager
}

func NewDispatcher(db *gorm.DB, engine *Engine, gate *Gate, sessions *assistant.SessionManager) *Dispatcher {
	return &Dispatcher{db: db, engine: engine, gate: gate, sessions: sessions}
}

// HandleWebhook processes one provider delivery for a tenant. It
// never returns an error for unknown tenants or malformed payloads,
// the provider retries on anything but an ack and retrying cannot fix
// either case.
func (d *Dispatcher) HandleWebhook(ctx context.Context, clientID int64, body []byte) {
	env, err := ParseEnvelope(body)
	if err != nil {
		zap.L().Warn("malformed webhook payload",
			zap.String("namespace", "bot"),
			zap.Int64("client_id", clientID),
			zap.Error(err))
		return
	}

	client, err := d.engine.ClientByID(clientID)
	if err != nil && env.Instance != "" {
		// deliveries configured before an id rename still carry a
		// resolvable instance name
		client, err = d.engine.ClientByInstance(env.Instance)
	}
	if err != nil {
		zap.L().Warn("webhook for unknown client",
			zap.String("namespace", "bot"),
			zap.Int64("client_id", clientID),
			zap.String("instance", env.Instance),
			zap.Error(err))
		return
	}

	ev, err := DecodeEvent(env)
	if err != nil {
		zap.L().Warn("undecodable webhook event",
			zap.String("namespace", "bot"),
			zap.String("event", env.Event),
			zap.Int64("client_id", clientID),
			zap.Error(err))
		return
	}

	if msg, ok := ev.(MessagesUpsert); ok {
		d.handleInboundMessage(ctx, client, msg)
		return
	}
	d.engine.Apply(client, ev)
}

func (d *Dispatcher) handleInboundMessage(ctx context.Context, client *domain.ClientInstance, msg MessagesUpsert) {
	if msg.Text == "" || msg.Phone == "" {
		return
	}

	// control commands are honored only from the tenant's own
	// connected number, anyone else typing one gets no response
	if IsCommand(msg.Text) {
		if client.ConnectedPhone == "" || msg.Phone != client.ConnectedPhone {
			zap.L().Debug("command from unauthorized number ignored",
				zap.String("namespace", "bot"),
				zap.Int64("client_id", client.ID),
				zap.String("phone", msg.Phone))
			return
		}
		reply := d.gate.Execute(client, msg.Phone, msg.Text)
		if reply == "" {
			return
		}
		d.storeMessage(client.ID, msg.Phone, domain.MessageInbound, msg.Text)
		d.send(ctx, client, msg.Phone, reply)
		return
	}

	// the provider echoes our own outbound sends back as fromMe
	if msg.FromMe {
		return
	}

	d.storeMessage(client.ID, msg.Phone, domain.MessageInbound, msg.Text)

	paused, err := d.gate.IsPaused(client.ID, msg.Phone)
	if err != nil {
		zap.L().Error("pause lookup failed",
			zap.String("namespace", "bot"),
			zap.Int64("client_id", client.ID),
			zap.Error(err))
		return
	}
	if paused {
		zap.L().Debug("conversation paused, message stored only",
			zap.String("namespace", "bot"),
			zap.Int64("client_id", client.ID),
			zap.String("phone", msg.Phone))
		return
	}

	reply := d.sessions.Reply(ctx, client, msg.Phone, msg.Text)
	d.send(ctx, client, msg.Phone, reply)
}

func (d *Dispatcher) send(ctx context.Context, client *domain.ClientInstance, phone, text string) {
	if err := d.engine.SendText(ctx, client, phone, text); err != nil {
		zap.L().Error("outbound message failed",
			zap.String("namespace", "bot"),
			zap.Int64("client_id", client.ID),
			zap.String("phone", phone),
			zap.Error(err))
		return
	}
	d.storeMessage(client.ID, phone, domain.MessageOutbound, text)
}

func (d *Dispatcher) storeMessage(clientID int64, phone, direction, content string) {
	msg := domain.ChatMessage{
		ID:          common.UUIDint64(),
		ClientId:    clientID,
		PhoneNumber: phone,
		Direction:   direction,
		Content:     content,
	}
	if err := d.db.Create(&msg).Error; err != nil {
		zap.L().Error("chat message persist failed",
			zap.String("namespace", "bot"),
			zap.Int64("client_id", clientID),
			zap.Error(err))
	}
}
