package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chiwei-platform/paas-workloads/internal/service"
)

type IngressHandler struct {
	svc *service.IngressService
	appResolver
}

func NewIngressHandler(svc *service.IngressService, apps *service.AppService, defaultRegion string) *IngressHandler {
	return &IngressHandler{svc: svc, appResolver: appResolver{apps: apps, defaultRegion: defaultRegion}}
}

// Sync 只投递同步任务。
func (h *IngressHandler) Sync(w http.ResponseWriter, r *http.Request) {
	app, err := h.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.RequestSync(r.Context(), app); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"app": app.Name})
}

func (h *IngressHandler) ListDomains(w http.ResponseWriter, r *http.Request) {
	app, err := h.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	domains, err := h.svc.ListDomains(r.Context(), app)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domains)
}

func (h *IngressHandler) BindDomain(w http.ResponseWriter, r *http.Request) {
	app, err := h.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req service.BindDomainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.svc.BindDomain(r.Context(), app, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.RequestSync(r.Context(), app); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *IngressHandler) UnbindDomain(w http.ResponseWriter, r *http.Request) {
	app, err := h.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.UnbindDomain(r.Context(), app, id); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.RequestSync(r.Context(), app); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}
