package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wsn-portal/provisioning-server/internal/models"
)

// HandleListAccounts lists hotspot accounts straight from the device
func (s *RESTServer) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.device.ListAccounts(r.Context())
	if err != nil {
		s.respondError(w, http.StatusBadGateway, "router unavailable: "+err.Error())
		return
	}
	if accounts == nil {
		accounts = []models.HotspotAccount{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"total":    len(accounts),
	})
}

// HandleListActiveSessions lists sessions currently online
func (s *RESTServer) HandleListActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.device.ListActiveSessions(r.Context())
	if err != nil {
		s.respondError(w, http.StatusBadGateway, "router unavailable: "+err.Error())
		return
	}
	if sessions == nil {
		sessions = []models.ActiveSession{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// HandleListProfiles lists hotspot profiles defined on the device
func (s *RESTServer) HandleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.device.ListProfiles(r.Context())
	if err != nil {
		s.respondError(w, http.StatusBadGateway, "router unavailable: "+err.Error())
		return
	}
	if profiles == nil {
		profiles = []string{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": profiles,
	})
}

// HandleKickSession disconnects an active hotspot session
func (s *RESTServer) HandleKickSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		s.respondError(w, http.StatusBadRequest, "missing session id")
		return
	}

	if err := s.device.KickSession(r.Context(), sessionID); err != nil {
		s.respondError(w, http.StatusBadGateway, "failed to kick session: "+err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}
