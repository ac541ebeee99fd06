package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fleetbroker/pkg/middleware"
	"fleetbroker/pkg/problems"
)

type accountRequest struct {
	Title   string `json:"title"`
	RoleARN string `json:"roleArn"`
}

func (a *App) createAccount(w http.ResponseWriter, r *http.Request) {
	var body accountRequest
	if !decode(w, r, &body) {
		return
	}
	acct, err := a.Accounts.Onboard(r.Context(), middleware.UserFrom(r.Context()), body.Title, body.RoleARN)
	if err != nil {
		problems.WriteError(w, err)
		return
	}
	writeJSON(w, viewAccount(acct), http.StatusCreated)
}

func (a *App) listAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := a.Accounts.ListForUser(r.Context(), middleware.UserFrom(r.Context()))
	if err != nil {
		problems.WriteError(w, err)
		return
	}
	out := make([]accountView, 0, len(accts))
	for _, acct := range accts {
		out = append(out, viewAccount(acct))
	}
	writeJSON(w, out, http.StatusOK)
}

func (a *App) getAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := a.Accounts.Get(r.Context(), middleware.UserFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		problems.WriteError(w, err)
		return
	}
	writeJSON(w, viewAccount(acct), http.StatusOK)
}

func (a *App) updateAccount(w http.ResponseWriter, r *http.Request) {
	var body accountRequest
	if !decode(w, r, &body) {
		return
	}
	acct, err := a.Accounts.Edit(r.Context(), middleware.UserFrom(r.Context()), chi.URLParam(r, "id"), body.Title, body.RoleARN)
	if err != nil {
		problems.WriteError(w, err)
		return
	}
	writeJSON(w, viewAccount(acct), http.StatusOK)
}

func (a *App) deleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := a.Accounts.Offboard(r.Context(), middleware.UserFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		problems.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
