// Package adminapi exposes the authenticated management surface for
// platform operators.
package adminapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ArvalTIKS/evolution-assistant/internal/bot"
	"github.com/ArvalTIKS/evolution-assistant/internal/domain"
	"github.com/ArvalTIKS/evolution-assistant/internal/webserver"
	"github.com/ArvalTIKS/evolution-assistant/pkg/common"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Register wires every admin route into the web server. Call after
// webserver.Init.
func Register() {
	registerClientRoutes()
	registerSystemRoutes()
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func fail(c echo.Context, status int, code, message string, detail interface{}) error {
	return c.JSON(status, map[string]interface{}{
		"success": false,
		"code":    code,
		"message": message,
		"detail":  detail,
	})
}

func paged(c echo.Context, items interface{}, total int64, page, pageSize int) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":   true,
		"data":      items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func parsePagination(c echo.Context) (int, int) {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	return page, pageSize
}

// GetDB returns the request scoped database handle.
func GetDB(c echo.Context) *gorm.DB {
	return c.Get(webserver.ContextDBKey).(*gorm.DB)
}

// GetEngine returns the lifecycle engine.
func GetEngine(c echo.Context) *bot.Engine {
	return c.Get(webserver.ContextEngineKey).(*bot.Engine)
}

// oprLog records an operator action in the audit table.
func oprLog(c echo.Context, action, desc string) {
	log := domain.SysOprLog{
		ID:        common.UUIDint64(),
		OprName:   "admin",
		OprIp:     c.RealIP(),
		OptAction: action,
		OptDesc:   desc,
		OptTime:   time.Now(),
	}
	if err := GetDB(c).Create(&log).Error; err != nil {
		zap.L().Warn("operator log write failed",
			zap.String("namespace", "adminapi"),
			zap.Error(err))
	}
}
