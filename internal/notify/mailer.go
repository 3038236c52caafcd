package notify

import (
	"fmt"

	"github.com/ArvalTIKS/evolution-assistant/config"
	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Mailer emails clients and the platform operator on lifecycle
// events. With no SMTP host configured every send is a silent no-op.
type Mailer struct {
	cfg config.SmtpConfig
}

func NewMailer(cfg config.SmtpConfig, bus EventBus.Bus) *Mailer {
	m := &Mailer{cfg: cfg}
	if bus != nil {
		_ = bus.Subscribe(TopicClientEvent, m.OnEvent)
	}
	return m
}

func (m *Mailer) enabled() bool {
	return m.cfg.Host != ""
}

// OnEvent formats and sends the notification for one lifecycle event.
func (m *Mailer) OnEvent(ev Event) {
	if !m.enabled() {
		return
	}
	subject, body := composeMessage(ev)
	if subject == "" {
		return
	}
	recipients := make([]string, 0, 2)
	if ev.Email != "" {
		recipients = append(recipients, ev.Email)
	}
	if m.cfg.AdminEmail != "" {
		recipients = append(recipients, m.cfg.AdminEmail)
	}
	if len(recipients) == 0 {
		return
	}
	if err := m.send(recipients, subject, body); err != nil {
		zap.L().Error("notification mail failed",
			zap.String("namespace", "notify"),
			zap.String("kind", ev.Kind),
			zap.Int64("client_id", ev.ClientID),
			zap.Error(err))
	}
}

func composeMessage(ev Event) (string, string) {
	switch ev.Kind {
	case EventCreated:
		return "Tu asistente de WhatsApp está listo",
			fmt.Sprintf("Hola %s,\n\nTu instancia de WhatsApp fue creada. Escaneá el código QR desde tu página para activar el asistente.\n", ev.ClientName)
	case EventConnected:
		return "WhatsApp conectado",
			fmt.Sprintf("Hola %s,\n\nTu número %s quedó conectado y el asistente ya responde mensajes.\n", ev.ClientName, ev.Phone)
	case EventDisconnected:
		return "WhatsApp desconectado",
			fmt.Sprintf("Hola %s,\n\nLa sesión de WhatsApp se cerró. Volvé a escanear el código QR para reactivar el asistente.\n", ev.ClientName)
	case EventDeleted:
		return "Instancia eliminada",
			fmt.Sprintf("Hola %s,\n\nTu instancia de WhatsApp fue eliminada de la plataforma.\n", ev.ClientName)
	case EventQRGenerated:
		return "Código QR generado",
			fmt.Sprintf("Hola %s,\n\nSe generó un nuevo código QR para tu instancia. Escanealo desde tu página de cliente antes de que expire.\n", ev.ClientName)
	case EventPaused:
		return "Conversación pausada",
			fmt.Sprintf("Hola %s,\n\nTu conversación con %s fue pausada.\n", ev.ClientName, ev.Phone)
	case EventResumed:
		return "Conversación reactivada",
			fmt.Sprintf("Hola %s,\n\nTu conversación con %s fue reactivada.\n", ev.ClientName, ev.Phone)
	case EventPausedAll:
		return "Bot pausado",
			fmt.Sprintf("Hola %s,\n\nTodas las conversaciones de tu instancia fueron pausadas.\n", ev.ClientName)
	case EventResumedAll:
		return "Bot reactivado",
			fmt.Sprintf("Hola %s,\n\nTodas las conversaciones de tu instancia fueron reactivadas.\n", ev.ClientName)
	case EventRestarted:
		return "Servicio reiniciado",
			fmt.Sprintf("Hola %s,\n\nTu instancia fue reiniciada para garantizar su funcionamiento.\n", ev.ClientName)
	}
	return "", ""
}

func (m *Mailer) send(to []string, subject, body string) error {
	msg := gomail.NewMessage()
	from := m.cfg.From
	if from == "" {
		from = m.cfg.User
	}
	msg.SetHeader("From", from)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	dialer := gomail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.User, m.cfg.Passwd)
	return dialer.DialAndSend(msg)
}
