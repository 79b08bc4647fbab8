package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/service"
)

type LogHandler struct {
	svc *service.LogService
	appResolver
}

func NewLogHandler(svc *service.LogService, apps *service.AppService, defaultRegion string) *LogHandler {
	return &LogHandler{svc: svc, appResolver: appResolver{apps: apps, defaultRegion: defaultRegion}}
}

func (h *LogHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	app, err := h.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: limit %q", domain.ErrInvalidInput, raw))
			return
		}
		limit = v
	}

	logs, err := h.svc.GetProcessLogs(r.Context(), app, q.Get("process_type"), q.Get("since"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}
