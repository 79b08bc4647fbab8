package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chiwei-platform/paas-workloads/internal/domain"
	"github.com/chiwei-platform/paas-workloads/internal/service"
)

// appResolver 把路径中的 {app} 解析为 WlApp，region 取查询参数，缺省为平台默认 region。
type appResolver struct {
	apps          *service.AppService
	defaultRegion string
}

func (a appResolver) region(r *http.Request) string {
	if region := r.URL.Query().Get("region"); region != "" {
		return region
	}
	return a.defaultRegion
}

func (a appResolver) resolve(r *http.Request) (*domain.WlApp, error) {
	return a.apps.GetApp(r.Context(), a.region(r), chi.URLParam(r, "app"))
}

type AppHandler struct {
	svc *service.AppService
	appResolver
}

func NewAppHandler(svc *service.AppService, defaultRegion string) *AppHandler {
	return &AppHandler{svc: svc, appResolver: appResolver{apps: svc, defaultRegion: defaultRegion}}
}

func (h *AppHandler) Ensure(w http.ResponseWriter, r *http.Request) {
	var req service.EnsureWlAppRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Region == "" {
		req.Region = h.defaultRegion
	}
	app, err := h.svc.EnsureWlApp(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *AppHandler) Get(w http.ResponseWriter, r *http.Request) {
	app, err := h.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}
