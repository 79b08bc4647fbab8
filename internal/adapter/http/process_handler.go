package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/service"
)

type ProcessHandler struct {
	svc *service.ProcessService
	appResolver
}

func NewProcessHandler(svc *service.ProcessService, apps *service.AppService, defaultRegion string) *ProcessHandler {
	return &ProcessHandler{svc: svc, appResolver: appResolver{apps: apps, defaultRegion: defaultRegion}}
}

func (h *ProcessHandler) List(w http.ResponseWriter, r *http.Request) {
	app, err := h.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	info, err := h.svc.ListProcesses(r.Context(), app)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *ProcessHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	app, err := h.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.svc.GetSnapshot(r.Context(), app)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type scaleRequest struct {
	Replicas *int32 `json:"replicas"`
}

// Operate 执行 scale、start、stop、restart。副本数被上限截断时仍返回 200 并附带提示。
func (h *ProcessHandler) Operate(w http.ResponseWriter, r *http.Request) {
	app, err := h.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	procType := chi.URLParam(r, "type")
	if err := domain.ValidateProcessType(procType); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	action := chi.URLParam(r, "action")
	switch action {
	case service.OpScale:
		var req scaleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.Replicas == nil {
			writeError(w, r, fmt.Errorf("%w: replicas is required", domain.ErrInvalidInput))
			return
		}
		err = h.svc.Scale(ctx, app, procType, *req.Replicas)
	case service.OpStart:
		err = h.svc.Start(ctx, app, procType)
	case service.OpStop:
		err = h.svc.Stop(ctx, app, procType)
	case service.OpRestart:
		err = h.svc.Restart(ctx, app, procType)
	default:
		writeError(w, r, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidInput, action))
		return
	}

	var quotaErr *domain.ReplicasExceedQuotaError
	if errors.As(err, &quotaErr) {
		writeJSON(w, http.StatusOK, map[string]any{"process": procType, "action": action, "replicas": quotaErr.Max, "warning": quotaErr.Error()})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"process": procType, "action": action})
}
