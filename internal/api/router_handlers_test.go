package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsn-portal/provisioning-server/internal/models"
)

func TestHandleListAccounts(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "admin@example.com", true)

	env.device.accounts = []models.HotspotAccount{
		{Name: "wsn001", Profile: "basic"},
		{Name: "wsn002", Profile: "premium", Disabled: true},
	}

	rec := env.do(t, http.MethodGet, "/api/v1/router/accounts", env.token(t, admin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["total"])
}

func TestHandleListAccounts_RouterDown(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "admin@example.com", true)
	env.device.err = errors.New("request timed out")

	rec := env.do(t, http.MethodGet, "/api/v1/router/accounts", env.token(t, admin), nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleListActiveSessions(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "admin@example.com", true)

	env.device.sessions = []models.ActiveSession{
		{ID: "*A", User: "wsn001", Address: "10.0.0.5"},
	}

	rec := env.do(t, http.MethodGet, "/api/v1/router/active", env.token(t, admin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["total"])
}

func TestHandleListProfiles(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "admin@example.com", true)
	env.device.profiles = []string{"default", "basic", "premium"}

	rec := env.do(t, http.MethodGet, "/api/v1/router/profiles", env.token(t, admin), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Len(t, body["profiles"], 3)
}

func TestHandleKickSession(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "admin@example.com", true)

	rec := env.do(t, http.MethodDelete, "/api/v1/router/active/*A", env.token(t, admin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"*A"}, env.device.kicked)
}

func TestRouterEndpoints_RequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "user@example.com", false)

	rec := env.do(t, http.MethodGet, "/api/v1/router/accounts", env.token(t, user), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
