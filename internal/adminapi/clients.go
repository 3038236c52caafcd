package adminapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ArvalTIKS/evolution-assistant/internal/bot"
	"github.com/ArvalTIKS/evolution-assistant/internal/domain"
	"github.com/ArvalTIKS/evolution-assistant/internal/webserver"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func registerClientRoutes() {
	webserver.ApiGET("/clients", listClients)
	webserver.ApiPOST("/clients", createClient)
	webserver.ApiGET("/clients/:id", getClient)
	webserver.ApiPUT("/clients/:id", updateClient)
	webserver.ApiDELETE("/clients/:id", deleteClient)
	webserver.ApiPOST("/clients/:id/toggle", toggleClient)
	webserver.ApiGET("/clients/:id/status", clientStatus)
	webserver.ApiGET("/clients/:id/qr", clientQR)
	webserver.ApiGET("/clients/:id/chats", listClientChats)
	webserver.ApiGET("/clients/:id/pauses", listClientPauses)
}

// maskSecret keeps only a short prefix so operators can recognize a
// key without the response leaking it.
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "..."
	}
	return secret[:4] + "..."
}

type clientView struct {
	domain.ClientInstance
	OpenaiApiKey string `json:"openai_api_key"`
}

func viewOf(client domain.ClientInstance) clientView {
	view := clientView{ClientInstance: client}
	view.ClientInstance.InstanceToken = maskSecret(client.InstanceToken)
	view.OpenaiApiKey = maskSecret(client.OpenaiApiKey)
	return view
}

func clientFromPath(c echo.Context) (*domain.ClientInstance, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid client id")
	}
	client, err := GetEngine(c).ClientByID(id)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "client not found")
	}
	return client, nil
}

func listClients(c echo.Context) error {
	page, pageSize := parsePagination(c)
	db := GetDB(c).Model(&domain.ClientInstance{})

	if q := strings.TrimSpace(c.QueryParam("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		db = db.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", like, like)
	}
	if status := strings.TrimSpace(c.QueryParam("status")); status != "" {
		db = db.Where("status = ?", status)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query clients", err.Error())
	}

	var clients []domain.ClientInstance
	if err := db.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&clients).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query clients", err.Error())
	}

	views := make([]clientView, 0, len(clients))
	for _, client := range clients {
		views = append(views, viewOf(client))
	}
	return paged(c, views, total, page, pageSize)
}

func createClient(c echo.Context) error {
	var payload struct {
		Name         string `json:"name"`
		Email        string `json:"email"`
		OpenaiApiKey string `json:"openai_api_key"`
		AssistantId  string `json:"assistant_id"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.Name == "" || payload.Email == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "name and email are required", nil)
	}

	client, err := GetEngine(c).CreateClient(c.Request().Context(),
		payload.Name, payload.Email, payload.OpenaiApiKey, payload.AssistantId)
	if err != nil {
		if client != nil {
			// row exists but provisioning failed, report both
			return fail(c, http.StatusBadGateway, "PROVISION_FAILED",
				"Client stored but instance provisioning failed", map[string]interface{}{
					"client_id": strconv.FormatInt(client.ID, 10),
					"error":     err.Error(),
				})
		}
		return fail(c, http.StatusInternalServerError, "CREATE_FAILED", "Failed to create client", err.Error())
	}

	oprLog(c, "create_client", client.Name)
	zap.L().Info("client created",
		zap.String("namespace", "adminapi"),
		zap.Int64("client_id", client.ID),
		zap.String("instance", client.InstanceName))
	return ok(c, viewOf(*client))
}

func getClient(c echo.Context) error {
	client, err := clientFromPath(c)
	if err != nil {
		return err
	}
	return ok(c, viewOf(*client))
}

func updateClient(c echo.Context) error {
	client, err := clientFromPath(c)
	if err != nil {
		return err
	}

	var payload struct {
		Name         *string `json:"name"`
		Email        *string `json:"email"`
		OpenaiApiKey *string `json:"openai_api_key"`
		AssistantId  *string `json:"assistant_id"`
		Remark       *string `json:"remark"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}

	updates := map[string]interface{}{}
	if payload.Name != nil {
		updates["name"] = *payload.Name
	}
	if payload.Email != nil {
		updates["email"] = *payload.Email
	}
	if payload.OpenaiApiKey != nil {
		updates["openai_api_key"] = *payload.OpenaiApiKey
	}
	if payload.AssistantId != nil {
		updates["assistant_id"] = *payload.AssistantId
	}
	if payload.Remark != nil {
		updates["remark"] = *payload.Remark
	}
	if len(updates) == 0 {
		return ok(c, viewOf(*client))
	}

	if err := GetDB(c).Model(&domain.ClientInstance{}).Where("id = ?", client.ID).Updates(updates).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "UPDATE_FAILED", "Failed to update client", err.Error())
	}

	oprLog(c, "update_client", client.Name)
	updated, err := GetEngine(c).ClientByID(client.ID)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to reload client", err.Error())
	}
	return ok(c, viewOf(*updated))
}

func deleteClient(c echo.Context) error {
	client, err := clientFromPath(c)
	if err != nil {
		return err
	}

	if err := GetEngine(c).DeleteTenant(c.Request().Context(), client); err != nil {
		return fail(c, http.StatusInternalServerError, "DELETE_FAILED", "Failed to delete client", err.Error())
	}

	oprLog(c, "delete_client", client.Name)
	return ok(c, map[string]interface{}{"id": strconv.FormatInt(client.ID, 10)})
}

// toggleClient flips the WhatsApp session of a client on or off.
func toggleClient(c echo.Context) error {
	client, err := clientFromPath(c)
	if err != nil {
		return err
	}

	status, err := GetEngine(c).Toggle(c.Request().Context(), client)
	if err != nil {
		if err == bot.ErrNotConnected {
			return fail(c, http.StatusConflict, "NOT_CONNECTED", "Instance is not connected", nil)
		}
		return fail(c, http.StatusBadGateway, "TOGGLE_FAILED", "Failed to toggle instance", err.Error())
	}

	oprLog(c, "toggle_client", client.Name)
	return ok(c, map[string]interface{}{
		"status":    status,
		"connected": status == domain.ClientStatusActive,
	})
}

func clientStatus(c echo.Context) error {
	client, err := clientFromPath(c)
	if err != nil {
		return err
	}

	status, statusErr := GetEngine(c).StatusFor(c.Request().Context(), client)
	resp := map[string]interface{}{
		"status":    status,
		"connected": status == domain.ClientStatusActive,
		"phone":     client.ConnectedPhone,
	}
	if statusErr != nil {
		resp["provider_error"] = statusErr.Error()
	}
	return ok(c, resp)
}

func clientQR(c echo.Context) error {
	client, err := clientFromPath(c)
	if err != nil {
		return err
	}

	qr, err := GetEngine(c).QRFor(c.Request().Context(), client)
	if err != nil {
		return fail(c, http.StatusBadGateway, "QR_FAILED", "Failed to fetch pairing code", err.Error())
	}
	return ok(c, map[string]interface{}{
		"qrcode":        qr,
		"connected":     client.Status == domain.ClientStatusActive,
		"qr_timeout_ms": bot.QRTimeoutHintMs,
	})
}

func listClientChats(c echo.Context) error {
	client, err := clientFromPath(c)
	if err != nil {
		return err
	}
	page, pageSize := parsePagination(c)

	db := GetDB(c).Model(&domain.ChatMessage{}).Where("client_id = ?", client.ID)
	if phone := strings.TrimSpace(c.QueryParam("phone")); phone != "" {
		db = db.Where("phone_number = ?", phone)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query messages", err.Error())
	}

	var messages []domain.ChatMessage
	if err := db.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&messages).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query messages", err.Error())
	}
	return paged(c, messages, total, page, pageSize)
}

func listClientPauses(c echo.Context) error {
	client, err := clientFromPath(c)
	if err != nil {
		return err
	}

	var pauses []domain.PauseRecord
	if err := GetDB(c).Where("client_id = ?", client.ID).Order("created_at DESC").Find(&pauses).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query pauses", err.Error())
	}
	return ok(c, pauses)
}
