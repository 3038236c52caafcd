package webserver

import (
	"io"
	"net/http"
	"strconv"

	"github.com/ArvalTIKS/evolution-assistant/internal/bot"
	"github.com/ArvalTIKS/evolution-assistant/internal/domain"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// handleWebhook ingests one provider delivery. The reply is always a
// 200 ack, anything else makes the provider retry deliveries that can
// never succeed.
func (s *WebServer) handleWebhook(c echo.Context) error {
	clientID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "ignored"})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		zap.L().Warn("webhook body read failed",
			zap.String("namespace", "web"),
			zap.Error(err))
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "ignored"})
	}

	s.dispatcher.HandleWebhook(c.Request().Context(), clientID, body)
	return c.JSON(http.StatusOK, map[string]interface{}{"status": "ok"})
}

// handleLanding serves the public page data of a tenant: its status
// and, while waiting for a scan, the pairing code.
func (s *WebServer) handleLanding(c echo.Context) error {
	client, err := s.engine.ClientByLanding(c.Param("slug"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "client not found")
	}

	var messageCount, pausedCount, globalPauses int64
	s.db.Model(&domain.ChatMessage{}).Where("client_id = ?", client.ID).Count(&messageCount)
	s.db.Model(&domain.PauseRecord{}).
		Where("client_id = ? and phone_number <> ?", client.ID, domain.PauseAllPhone).
		Count(&pausedCount)
	s.db.Model(&domain.PauseRecord{}).
		Where("client_id = ? and phone_number = ?", client.ID, domain.PauseAllPhone).
		Count(&globalPauses)

	resp := map[string]interface{}{
		"name":         client.Name,
		"status":       client.Status,
		"connected":    client.Status == domain.ClientStatusActive,
		"phone":        client.ConnectedPhone,
		"messageCount": messageCount,
		"pausedCount":  pausedCount,
		"globalPause":  globalPauses > 0,
	}
	if client.Status != domain.ClientStatusActive {
		qr, err := s.engine.QRFor(c.Request().Context(), client)
		if err != nil {
			zap.L().Warn("landing qr fetch failed",
				zap.String("namespace", "web"),
				zap.Int64("client_id", client.ID),
				zap.Error(err))
		}
		resp["qrcode"] = qr
		resp["qr_timeout_ms"] = bot.QRTimeoutHintMs
	}
	return c.JSON(http.StatusOK, resp)
}

// handleQR returns the current pairing code for the tenant page,
// refreshing it when the cached one rotated out.
func (s *WebServer) handleQR(c echo.Context) error {
	client, err := s.engine.ClientByLanding(c.Param("slug"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "client not found")
	}
	if client.Status == domain.ClientStatusActive {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"connected": true,
			"qrcode":    "",
		})
	}

	qr, err := s.engine.QRFor(c.Request().Context(), client)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "provider unavailable")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"connected":     false,
		"qrcode":        qr,
		"qr_timeout_ms": bot.QRTimeoutHintMs,
	})
}

// handleStatus reconciles and reports the tenant connection state.
func (s *WebServer) handleStatus(c echo.Context) error {
	client, err := s.engine.ClientByLanding(c.Param("slug"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "client not found")
	}

	status, err := s.engine.StatusFor(c.Request().Context(), client)
	if err != nil {
		// fall back to the stored status when the provider is down
		zap.L().Warn("status reconcile failed",
			zap.String("namespace", "web"),
			zap.Int64("client_id", client.ID),
			zap.Error(err))
		status = client.Status
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    status,
		"connected": status == domain.ClientStatusActive,
		"phone":     client.ConnectedPhone,
	})
}

// handleWebsocket attaches a dashboard to the notification hub.
func (s *WebServer) handleWebsocket(c echo.Context) error {
	if err := s.hub.Serve(c.Response(), c.Request()); err != nil {
		zap.L().Warn("websocket upgrade failed",
			zap.String("namespace", "web"),
			zap.Error(err))
		return err
	}
	return nil
}
