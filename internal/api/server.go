package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetbroker/pkg/middleware"
)

// Handler builds the HTTP handler with routes and middleware.
func (a *App) Handler() http.Handler {
	a.docs = a.describe()

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(a.Log))
	r.Use(middleware.AccessLog(a.Log))
	r.Use(middleware.Tracing("fleetbroker", a.Log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/.well-known/openapi.json", a.docs.ServeHandler("fleetbroker", a.Version))

	r.Route("/v1", func(v chi.Router) {
		v.Use(middleware.WithUser())

		v.Post("/accounts", a.createAccount)
		v.Get("/accounts", a.listAccounts)
		v.Get("/accounts/{id}", a.getAccount)
		v.Put("/accounts/{id}", a.updateAccount)
		v.Delete("/accounts/{id}", a.deleteAccount)

		v.Group(func(s chi.Router) {
			s.Use(middleware.WithAccount(a.Store))
			s.Get("/regions", a.listRegions)
			s.Get("/servers", a.listServers)
			s.Post("/servers", a.createServer)
			s.Get("/servers/{region}/{id}", a.getServer)
			s.Get("/servers/{region}/{id}/status", a.getServerStatus)
			s.Delete("/servers/{region}/{id}", a.deleteServer)
		})
	})
	return r
}
