// cmd/api/context.go
// Helpers for stashing the authenticated user in the request context. The
// user is always passed explicitly through the request rather than read from
// any package-level state.
package main

import (
	"context"
	"net/http"

	"github.com/clms/library-api/internal/data"
)

// contextKey is a private type so our context keys cannot collide with keys
// set by other packages.
type contextKey string

const userContextKey = contextKey("user")

// contextSetUser returns a copy of the request whose context carries user.
func (app *applicationDependencies) contextSetUser(r *http.Request, user *data.User) *http.Request {
	ctx := context.WithValue(r.Context(), userContextKey, user)
	return r.WithContext(ctx)
}

// contextGetUser retrieves the user from the request context. It is only
// called downstream of the authenticate middleware, which always sets one,
// so a missing value is an unrecoverable programming error.
func (app *applicationDependencies) contextGetUser(r *http.Request) *data.User {
	user, ok := r.Context().Value(userContextKey).(*data.User)
	if !ok {
		panic("missing user value in request context")
	}
	return user
}
