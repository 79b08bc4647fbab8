package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers 汇总请求路径上的全部 handler。
type Handlers struct {
	App     *AppHandler
	Deploy  *DeployHandler
	Process *ProcessHandler
	Log     *LogHandler
	Ingress *IngressHandler
	Cluster *ClusterHandler
}

func NewRouter(h Handlers, apiToken string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(metricsMiddleware)
	r.Use(bodySizeLimitMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware(apiToken))

		r.Post("/apps", h.App.Ensure)
		r.Route("/apps/{app}", func(r chi.Router) {
			r.Get("/", h.App.Get)
			r.Post("/deploys", h.Deploy.Deploy)
			r.Post("/offline", h.Deploy.Offline)
			r.Get("/logs", h.Log.GetLogs)

			r.Route("/processes", func(r chi.Router) {
				r.Get("/", h.Process.List)
				r.Get("/snapshot", h.Process.Snapshot)
				r.Post("/{type}/{action}", h.Process.Operate)
			})

			r.Post("/ingresses/sync", h.Ingress.Sync)
			r.Route("/domains", func(r chi.Router) {
				r.Get("/", h.Ingress.ListDomains)
				r.Post("/", h.Ingress.BindDomain)
				r.Delete("/{id}", h.Ingress.UnbindDomain)
			})
		})

		r.Route("/deploys/{id}", func(r chi.Router) {
			r.Get("/", h.Deploy.GetDeploy)
			r.Post("/interrupt", h.Deploy.Interrupt)
		})
		r.Get("/offlines/{id}", h.Deploy.GetOffline)

		r.Get("/clusters", h.Cluster.List)
		r.Get("/clusters/{name}/egress-ips", h.Cluster.EgressIPs)
	})

	return r
}
