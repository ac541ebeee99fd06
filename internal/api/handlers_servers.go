package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fleetbroker/internal/orchestrator"
	"fleetbroker/pkg/middleware"
	"fleetbroker/pkg/problems"
	"fleetbroker/pkg/servers"
)

func (a *App) listRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := a.Fleet.ListRegions(r.Context(), middleware.AccountFrom(r.Context()).ID)
	if err != nil {
		problems.WriteError(w, err)
		return
	}
	if regions == nil {
		regions = []string{}
	}
	writeJSON(w, regions, http.StatusOK)
}

// listServers queries the regions given in ?region=, or the account's active
// regions when none are given.
func (a *App) listServers(w http.ResponseWriter, r *http.Request) {
	acct := middleware.AccountFrom(r.Context())
	regions := splitList(r.URL.Query()["region"])
	if len(regions) == 0 {
		regions = acct.ActiveRegions
	}
	if len(regions) == 0 {
		writeJSON(w, []servers.Server{}, http.StatusOK)
		return
	}
	list, err := a.Fleet.ListFleet(r.Context(), acct.ID, regions)
	if err != nil {
		problems.WriteError(w, err)
		return
	}
	if list == nil {
		list = []servers.Server{}
	}
	writeJSON(w, list, http.StatusOK)
}

func (a *App) createServer(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CreateRequest
	if !decode(w, r, &req) {
		return
	}
	req.AccountID = middleware.AccountFrom(r.Context()).ID
	s, err := a.Servers.CreateServer(r.Context(), req)
	if err != nil {
		if r.Context().Err() != nil {
			a.Log.Infow("server request abandoned by caller", "account", req.AccountID, "region", req.Region, "err", err)
		}
		problems.WriteError(w, err)
		return
	}
	writeJSON(w, s, http.StatusCreated)
}

func (a *App) getServer(w http.ResponseWriter, r *http.Request) {
	s, err := a.Servers.GetServer(r.Context(), middleware.AccountFrom(r.Context()).ID, chi.URLParam(r, "region"), chi.URLParam(r, "id"))
	if err != nil {
		problems.WriteError(w, err)
		return
	}
	writeJSON(w, s, http.StatusOK)
}

func (a *App) getServerStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.Servers.GetServerStatus(r.Context(), middleware.AccountFrom(r.Context()).ID, chi.URLParam(r, "region"), chi.URLParam(r, "id"))
	if err != nil {
		problems.WriteError(w, err)
		return
	}
	writeJSON(w, st, http.StatusOK)
}

func (a *App) deleteServer(w http.ResponseWriter, r *http.Request) {
	if err := a.Servers.DeleteServer(r.Context(), middleware.AccountFrom(r.Context()).ID, chi.URLParam(r, "region"), chi.URLParam(r, "id")); err != nil {
		problems.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
