package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	app "imghost/src/app"
	cfg "imghost/src/configuration"
	db "imghost/src/repository"
)

const stateCookieName = "oauth_state"

type (
	AuthHandler struct {
		oidcProvider           *oidc.Provider
		dataStore              db.AuthDB
		AuthConfig             *oauth2.Config
		URL                    string
		ClientID               string
		AccessTokenCookieName  string
		RefreshTokenCookieName string
		IDTokenCookieName      string
		staff                  map[string]bool
	}

	idClaims struct {
		Subject  string `json:"sub"`
		Nickname string `json:"nickname"`
		Username string `json:"preferred_username"`
		Name     string `json:"name"`
		Email    string `json:"email"`
		Picture  string `json:"picture"`
	}
)

func randString(nByte int) (string, error) {
	b := make([]byte, nByte)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewAuthHandler connects to the identity provider. When discovery fails
// the handler still serves session checks; login routes answer 503.
func NewAuthHandler(ctx context.Context, config *cfg.Properties, sessions db.AuthDB) *AuthHandler {
	handler := &AuthHandler{
		dataStore:              sessions,
		URL:                    config.Server.Name,
		ClientID:               config.Auth.ID,
		AccessTokenCookieName:  config.Auth.AccessTokenCookieName,
		RefreshTokenCookieName: config.Auth.RefreshTokenCookieName,
		IDTokenCookieName:      config.Auth.IDTokenCookieName,
		staff:                  make(map[string]bool, len(config.Auth.StaffUsers)),
	}
	for _, user := range config.Auth.StaffUsers {
		handler.staff[user] = true
	}

	discoveryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	provider, err := oidc.NewProvider(discoveryCtx, config.Auth.Host)
	if err != nil {
		log.Error().Err(err).Str("host", config.Auth.Host).Msg("can not create OIDC provider, login is disabled")
		return handler
	}
	log.Info().Str("auth_url", provider.Endpoint().AuthURL).Msg("OIDC provider ready")

	handler.oidcProvider = provider
	handler.AuthConfig = &oauth2.Config{
		ClientID:     config.Auth.ID,
		ClientSecret: config.Auth.Secret,
		RedirectURL:  config.Auth.Redirect,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	return handler
}

func (a *AuthHandler) enabled(c *gin.Context) bool {
	if a.oidcProvider == nil || a.AuthConfig == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Unavailable", "message": "identity provider is not configured"})
		return false
	}
	return true
}

func (a *AuthHandler) newState(c *gin.Context) (string, bool) {
	state, err := randString(16)
	if err != nil {
		abortWithError(c, err)
		return "", false
	}
	c.SetCookie(stateCookieName, state, int(10*time.Minute/time.Second), "/", a.URL, false, true)
	return state, true
}

func (a *AuthHandler) Login(c *gin.Context) {
	if !a.enabled(c) {
		return
	}
	state, ok := a.newState(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"ref": a.AuthConfig.AuthCodeURL(state)})
}

func (a *AuthHandler) Singin(c *gin.Context) {
	if !a.enabled(c) {
		return
	}
	state, ok := a.newState(c)
	if !ok {
		return
	}
	c.Redirect(http.StatusFound, a.AuthConfig.AuthCodeURL(state))
}

func (a *AuthHandler) Logout(c *gin.Context) {
	if token, err := c.Cookie(a.AccessTokenCookieName); err == nil && token != "" {
		a.dataStore.RemoveUser(token)
	}
	c.SetCookie(a.AccessTokenCookieName, "", -1, "/", a.URL, false, true)
	c.SetCookie(a.RefreshTokenCookieName, "", -1, "/", a.URL, false, true)
	c.SetCookie(a.IDTokenCookieName, "", -1, "/", a.URL, false, true)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (a *AuthHandler) Callback(c *gin.Context) {
	if !a.enabled(c) {
		return
	}
	expected, err := c.Cookie(stateCookieName)
	if err != nil || expected == "" || c.Query("state") != expected {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": "no current state found"})
		return
	}
	ctx := c.Request.Context()

	// Exchange the authorization code for access, refresh, and id tokens
	token, err := a.AuthConfig.Exchange(ctx, c.Query("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": "Error getting access token: " + err.Error()})
		return
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": "No ID token found in request to /callback"})
		return
	}
	claims, err := a.verify(ctx, rawIDToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "message": "Error verifying ID token: " + err.Error()})
		return
	}

	caller := a.callerFor(claims)
	if err := a.dataStore.UploadUser(token.AccessToken, caller); err != nil {
		abortWithError(c, err)
		return
	}
	log.Ctx(ctx).Info().Str("user", caller.UserID).Bool("staff", caller.Staff).Msg("user signed in")

	maxAge := int(time.Until(token.Expiry) / time.Second)
	if token.Expiry.IsZero() || maxAge <= 0 {
		maxAge = 3600
	}
	c.SetCookie(a.AccessTokenCookieName, token.AccessToken, maxAge, "/", a.URL, false, true)
	c.SetCookie(a.RefreshTokenCookieName, token.RefreshToken, maxAge, "/", a.URL, false, true)
	c.SetCookie(a.IDTokenCookieName, rawIDToken, maxAge, "/", a.URL, false, true)
	c.SetCookie(stateCookieName, "", -1, "/", a.URL, false, true)

	if callback, err := c.Cookie("callback"); err == nil && callback != "" {
		c.Redirect(http.StatusFound, callback)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": caller})
}

// Account shows the profile from the ID token of an authorized caller.
func (a *AuthHandler) Account(c *gin.Context) {
	caller := callerFrom(c)
	user := app.User{ID: caller.UserID, Username: caller.UserID}

	if cookie, err := c.Cookie(a.IDTokenCookieName); err == nil && cookie != "" && a.oidcProvider != nil {
		claims, err := a.verify(c.Request.Context(), cookie)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "message": "Error verifying ID token: " + err.Error()})
			return
		}
		user.Name = claims.Name
		user.Email = claims.Email
		user.Picture = claims.Picture
		if claims.Username != "" {
			user.Username = claims.Username
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payload": user, "staff": caller.Staff})
}

func (a *AuthHandler) verify(ctx context.Context, rawIDToken string) (*idClaims, error) {
	verifier := a.oidcProvider.Verifier(&oidc.Config{ClientID: a.ClientID})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}
	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		claims.Subject = idToken.Subject
	}
	return &claims, nil
}

// callerFor picks the user id from the claims: nickname, then
// preferred_username, then subject.
func (a *AuthHandler) callerFor(claims *idClaims) app.Caller {
	userID := claims.Nickname
	if userID == "" {
		userID = claims.Username
	}
	if userID == "" {
		userID = claims.Subject
	}
	return app.Caller{UserID: userID, Staff: a.staff[userID]}
}
