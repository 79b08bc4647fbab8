package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chiwei-platform/paas-workloads/internal/service"
)

// DeployHandler 受理部署与下架，实际执行由调度 worker 完成。
type DeployHandler struct {
	deploys  *service.DeployService
	offlines *service.OfflineService
	appResolver
}

func NewDeployHandler(deploys *service.DeployService, offlines *service.OfflineService, apps *service.AppService, defaultRegion string) *DeployHandler {
	return &DeployHandler{deploys: deploys, offlines: offlines, appResolver: appResolver{apps: apps, defaultRegion: defaultRegion}}
}

type operatorRequest struct {
	Operator string `json:"operator"`
}

func (h *DeployHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	app, err := h.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req service.DeployRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	op, err := h.deploys.Accept(r.Context(), app, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func (h *DeployHandler) GetDeploy(w http.ResponseWriter, r *http.Request) {
	op, err := h.deploys.GetDeploy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (h *DeployHandler) Interrupt(w http.ResponseWriter, r *http.Request) {
	var req operatorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.deploys.Interrupt(r.Context(), id, req.Operator); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"interrupted": id})
}

func (h *DeployHandler) Offline(w http.ResponseWriter, r *http.Request) {
	app, err := h.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req operatorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	op, err := h.offlines.Accept(r.Context(), app, req.Operator)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

func (h *DeployHandler) GetOffline(w http.ResponseWriter, r *http.Request) {
	op, err := h.offlines.GetOffline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}
