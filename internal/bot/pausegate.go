package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ArvalTIKS/evolution-assistant/internal/domain"
	"github.com/ArvalTIKS/evolution-assistant/internal/notify"
	"github.com/ArvalTIKS/evolution-assistant/pkg/common"
	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Control commands the instance owner can type into any chat.
const (
	CmdPause     = "pausar"
	CmdResume    = "reactivar"
	CmdPauseAll  = "pausar todo"
	CmdResumeAll = "activar todo"
	CmdStatus    = "estado"
)

// Gate decides whether the assistant may answer a conversation and
// executes the owner's pause commands.
type Gate struct {
	db  *gorm.DB
	bus EventBus.Bus
}

func NewGate(db *gorm.DB, bus EventBus.Bus) *Gate {
	return &Gate{db: db, bus: bus}
}

// Normalize collapses whitespace and case so "  Pausar  TODO " matches
// the command table.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// IsCommand reports whether the text is a control command.
func IsCommand(text string) bool {
	switch Normalize(text) {
	case CmdPause, CmdResume, CmdPauseAll, CmdResumeAll, CmdStatus:
		return true
	}
	return false
}

// IsPaused reports whether the conversation is muted, either
// individually or by a global pause.
func (g *Gate) IsPaused(clientID int64, phone string) (bool, error) {
	var count int64
	err := g.db.Model(&domain.PauseRecord{}).
		Where("client_id = ? and phone_number in ?", clientID, []string{phone, domain.PauseAllPhone}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Execute runs one command against the conversation identified by
// phone and returns the confirmation text for the owner. Callers must
// only pass messages authored by the instance owner.
func (g *Gate) Execute(client *domain.ClientInstance, phone, text string) string {
	switch Normalize(text) {
	case CmdPause:
		return g.pauseConversation(client, phone)
	case CmdResume:
		return g.resumeConversation(client, phone)
	case CmdPauseAll:
		return g.pauseAll(client)
	case CmdResumeAll:
		return g.resumeAll(client)
	case CmdStatus:
		return g.status(client.ID, phone)
	}
	return ""
}

func (g *Gate) publish(kind string, client *domain.ClientInstance, phone string) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(notify.TopicClientEvent, notify.Event{
		Kind:       kind,
		ClientID:   client.ID,
		ClientName: client.Name,
		Email:      client.Email,
		Phone:      phone,
	})
}

func (g *Gate) pauseConversation(client *domain.ClientInstance, phone string) string {
	record := domain.PauseRecord{
		ID:          common.UUIDint64(),
		ClientId:    client.ID,
		PhoneNumber: phone,
		PausedBy:    domain.PausedByClient,
	}
	result := g.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if result.Error != nil {
		g.logCommandError(client.ID, CmdPause, result.Error)
		return "❌ Error al pausar la conversación."
	}
	if result.RowsAffected == 0 {
		return "✅ Esta conversación ya estaba pausada."
	}
	g.publish(notify.EventPaused, client, phone)
	return "✅ Conversación pausada."
}

func (g *Gate) resumeConversation(client *domain.ClientInstance, phone string) string {
	result := g.db.Where("client_id = ? and phone_number = ?", client.ID, phone).
		Delete(&domain.PauseRecord{})
	if result.Error != nil {
		g.logCommandError(client.ID, CmdResume, result.Error)
		return "❌ Error al reactivar la conversación."
	}
	if result.RowsAffected == 0 {
		return "ℹ️ Esta conversación no estaba pausada."
	}
	g.publish(notify.EventResumed, client, phone)
	return "✅ Conversación reactivada."
}

func (g *Gate) pauseAll(client *domain.ClientInstance) string {
	record := domain.PauseRecord{
		ID:          common.UUIDint64(),
		ClientId:    client.ID,
		PhoneNumber: domain.PauseAllPhone,
		PausedBy:    domain.PausedByGlobal,
	}
	result := g.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if result.Error != nil {
		g.logCommandError(client.ID, CmdPauseAll, result.Error)
		return "❌ Error al pausar el bot."
	}
	if result.RowsAffected > 0 {
		g.publish(notify.EventPausedAll, client, "")
	}
	return "✅ Bot completamente pausado."
}

func (g *Gate) resumeAll(client *domain.ClientInstance) string {
	result := g.db.Where("client_id = ?", client.ID).Delete(&domain.PauseRecord{})
	if result.Error != nil {
		g.logCommandError(client.ID, CmdResumeAll, result.Error)
		return "❌ Error al reactivar el bot."
	}
	if result.RowsAffected == 0 {
		return "ℹ️ El bot no tenía conversaciones pausadas."
	}
	g.publish(notify.EventResumedAll, client, "")
	return fmt.Sprintf("✅ Bot reactivado. Se eliminaron %d pausas.", result.RowsAffected)
}

func (g *Gate) status(clientID int64, phone string) string {
	var records []domain.PauseRecord
	if err := g.db.Where("client_id = ?", clientID).Find(&records).Error; err != nil {
		g.logCommandError(clientID, CmdStatus, err)
		return "❌ Error al consultar el estado."
	}

	globalPause := false
	conversationPause := false
	pausedConversations := 0
	for _, r := range records {
		switch r.PhoneNumber {
		case domain.PauseAllPhone:
			globalPause = true
		case phone:
			conversationPause = true
			pausedConversations++
		default:
			pausedConversations++
		}
	}

	var b strings.Builder
	b.WriteString("📊 Estado del Bot:\n")
	switch {
	case globalPause:
		b.WriteString("🔴 Bot: COMPLETAMENTE PAUSADO\n")
	case conversationPause:
		b.WriteString("🟡 Esta conversación: PAUSADA\n")
		b.WriteString("🟢 Bot: ACTIVO para otras conversaciones\n")
	default:
		b.WriteString("🟢 Esta conversación: ACTIVA\n")
		b.WriteString("🟢 Bot: FUNCIONANDO NORMAL\n")
	}
	if pausedConversations > 0 {
		fmt.Fprintf(&b, "📱 Conversaciones pausadas: %d\n", pausedConversations)
	}
	b.WriteString("\nComandos: pausar, reactivar, pausar todo, activar todo")
	return b.String()
}

func (g *Gate) logCommandError(clientID int64, cmd string, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return
	}
	zap.L().Error("pause command failed",
		zap.String("namespace", "bot"),
		zap.Int64("client_id", clientID),
		zap.String("command", cmd),
		zap.Error(err))
}
