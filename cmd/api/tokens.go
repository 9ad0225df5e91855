// cmd/api/tokens.go
// Login endpoint and the JWT helpers shared with the authenticate
// middleware. Tokens are HS256-signed bearer tokens carrying the user id as
// the subject claim, valid for 24 hours.
package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clms/library-api/internal/data"
	"github.com/clms/library-api/internal/validator"
)

const (
	tokenIssuer = "clms.library-api"
	tokenTTL    = 24 * time.Hour
)

// createToken signs a JWT for the given user.
func (app *applicationDependencies) createToken(user *data.User) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(user.ID, 10),
		Issuer:    tokenIssuer,
		Audience:  jwt.ClaimStrings{tokenIssuer},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(app.config.jwt.secret))
}

// parseToken verifies a bearer token's signature, expiry, issuer, and
// audience, and returns the user id from the subject claim.
func (app *applicationDependencies) parseToken(tokenString string) (int64, error) {
	var claims jwt.RegisteredClaims

	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(t *jwt.Token) (any, error) {
			return []byte(app.config.jwt.secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, err
	}

	return strconv.ParseInt(claims.Subject, 10, 64)
}

// createAuthenticationTokenHandler handles POST /v1/tokens/authentication.
// It checks the login and password against the users table and, when they
// match an active account, responds with a signed bearer token.
func (app *applicationDependencies) createAuthenticationTokenHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}

	err := app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	v := validator.New()
	v.Check(validator.NotBlank(input.Login), "login", "must be provided")
	v.Check(validator.NotBlank(input.Password), "password", "must be provided")
	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	user, err := app.models.Users.GetByLogin(input.Login)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			// Same response as a bad password so logins cannot be enumerated.
			app.invalidCredentialsResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	if !user.Active {
		app.invalidCredentialsResponse(w, r)
		return
	}

	match, err := user.Password.Matches(input.Password)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
	if !match {
		app.invalidCredentialsResponse(w, r)
		return
	}

	token, err := app.createToken(user)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusCreated, envelope{"authentication_token": token, "user": user}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}
