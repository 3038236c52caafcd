package adminapi

import (
	"net/http"

	"github.com/ArvalTIKS/evolution-assistant/internal/domain"
	"github.com/ArvalTIKS/evolution-assistant/internal/webserver"
	"github.com/ArvalTIKS/evolution-assistant/pkg/metrics"
	"github.com/labstack/echo/v4"
)

func registerSystemRoutes() {
	webserver.ApiGET("/system/metrics", getSystemMetrics)
	webserver.ApiGET("/system/oprlogs", listOprLogs)
}

// gauge names written by the jobs and the recovery monitor.
var systemGauges = []string{
	"system_cpuuse",
	"system_memuse",
	"assistant_cpuuse",
	"assistant_memuse",
	"assistant_goroutines",
	"assistant_active_instances",
	"assistant_recovery_restarts",
}

func getSystemMetrics(c echo.Context) error {
	values := map[string]interface{}{}
	for _, name := range systemGauges {
		if v, ok := metrics.GetLatest(name); ok {
			values[name] = v
		}
	}
	return ok(c, values)
}

func listOprLogs(c echo.Context) error {
	page, pageSize := parsePagination(c)
	db := GetDB(c).Model(&domain.SysOprLog{})

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query logs", err.Error())
	}

	var logs []domain.SysOprLog
	if err := db.Order("opt_time DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&logs).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query logs", err.Error())
	}
	return paged(c, logs, total, page, pageSize)
}
