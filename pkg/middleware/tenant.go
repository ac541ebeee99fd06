// pkg/middleware/tenant.go
package middleware

import (
	"context"
	"errors"
	"net/http"

	"fleetbroker/pkg/faults"
	"fleetbroker/pkg/problems"
	"fleetbroker/pkg/tenants"
)

const (
	HeaderAccountID = "X-Account-ID"
	HeaderUserID    = "X-User-ID"
)

type ctxAccountKey struct{}
type ctxUserKey struct{}

// WithUser requires the X-User-ID header set by the authenticating proxy.
func WithUser() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := r.Header.Get(HeaderUserID)
			if user == "" {
				problems.Write(w, http.StatusUnauthorized, "unauthenticated", "Missing user", "The "+HeaderUserID+" header is required")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUserKey{}, user)))
		})
	}
}

// WithAccount resolves the active account from X-Account-ID and checks the
// user owns it. Must run after WithUser.
func WithAccount(store tenants.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderAccountID)
			if id == "" {
				problems.Write(w, http.StatusBadRequest, "account-required", "No active account", "Select an account with the "+HeaderAccountID+" header")
				return
			}
			acct, err := store.Get(r.Context(), id)
			if err != nil {
				if errors.Is(err, faults.ErrNotFound) {
					problems.Write(w, http.StatusNotFound, "unknown-account", "Unknown account", "")
					return
				}
				problems.WriteError(w, err)
				return
			}
			if acct.UserID != UserFrom(r.Context()) {
				problems.Write(w, http.StatusForbidden, "forbidden", "You do not have access to this account", "")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxAccountKey{}, acct)))
		})
	}
}

func AccountFrom(ctx context.Context) tenants.Account {
	if v := ctx.Value(ctxAccountKey{}); v != nil {
		return v.(tenants.Account)
	}
	return tenants.Account{}
}

func UserFrom(ctx context.Context) string {
	u, _ := ctx.Value(ctxUserKey{}).(string)
	return u
}
