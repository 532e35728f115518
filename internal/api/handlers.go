package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wsn-portal/provisioning-server/internal/models"
	"github.com/wsn-portal/provisioning-server/internal/storage"
	"github.com/wsn-portal/provisioning-server/pkg/crypto"
)

// ========== Health ==========

// HandleHealth reports service health
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"name":    s.config.Server.Name,
		"version": s.config.Server.Version,
	})
}

// ========== Auth handlers ==========

// HandleLogin handles user login
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !s.auth.VerifyPassword(req.Password, user.PasswordHash) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !user.IsActive {
		s.respondError(w, http.StatusForbidden, "account is disabled")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair(user)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleRefresh handles token refresh
func (s *RESTServer) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, err := s.auth.ParseRefreshToken(req.RefreshToken)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair(user)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// ========== User handlers ==========

// HandleRegisterUser registers a subscriber and enqueues hotspot
// provisioning. The response never depends on the device being up.
func (s *RESTServer) HandleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Profile   string `json:"profile"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" || req.FirstName == "" || req.LastName == "" {
		s.respondError(w, http.StatusBadRequest, "missing required fields")
		return
	}
	if len(req.Password) < 6 {
		s.respondError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	passwordHash, err := crypto.HashPassword(req.Password)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	routerPassword, err := crypto.GenerateRandomString(12)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate credentials")
		return
	}

	profile := req.Profile
	if profile == "" {
		profile = "default"
	}

	user := &models.User{
		Email:          req.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		PasswordHash:   passwordHash,
		IsActive:       true,
		RouterPassword: routerPassword,
		RouterProfile:  profile,
	}

	// Concurrent registrations can race on the allocated wsn_id; on a
	// collision re-allocate and insert again. An email conflict is the
	// caller's error and is reported as-is.
	for attempt := 0; ; attempt++ {
		wsnID, err := s.store.NextWsnID(r.Context())
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "failed to allocate subscriber id")
			return
		}
		user.WsnID = wsnID

		err = s.store.CreateUser(r.Context(), user)
		if err == nil {
			break
		}
		if errors.Is(err, storage.ErrDuplicateWsnID) && attempt < 3 {
			continue
		}
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "email already registered")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	if err := s.producer.UserRegistered(r.Context(), user, routerPassword, profile); err != nil {
		// Account exists; provisioning will be repaired by
		// ensure-account-exists on the next billing event.
		log.Error().Err(err).Str("wsn_id", user.WsnID).Msg("Failed to enqueue provisioning")
	}

	s.respondJSON(w, http.StatusCreated, user)
}

// HandleGetCurrentUser returns the authenticated user
func (s *RESTServer) HandleGetCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		s.respondError(w, http.StatusUnauthorized, "missing claims")
		return
	}
	s.getUserResponse(w, r, claims.UserID)
}

// HandleGetUser returns a user with sync state and recent usage
// snapshots. Non-admins can only read themselves.
func (s *RESTServer) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	claims := claimsFromContext(r.Context())
	if claims == nil || (!claims.IsAdmin && claims.UserID != id) {
		s.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	s.getUserResponse(w, r, id)
}

func (s *RESTServer) getUserResponse(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	user, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "user not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "failed to get user")
		return
	}

	snapshots, err := s.store.ListSessionSnapshots(r.Context(), id, 10)
	if err != nil {
		log.Error().Err(err).Str("user_id", id.String()).Msg("Failed to list session snapshots")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"user":     user,
		"sessions": snapshots,
	})
}

// HandleListUsers lists users with pagination
func (s *RESTServer) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	users, total, err := s.store.ListUsers(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"total": total,
	})
}

// HandleChangePassword updates the portal password and pushes the new
// hotspot password through the job queue
func (s *RESTServer) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	claims := claimsFromContext(r.Context())
	if claims == nil || (!claims.IsAdmin && claims.UserID != id) {
		s.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	var req struct {
		NewPassword string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.NewPassword) < 6 {
		s.respondError(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	user, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "user not found")
		return
	}

	passwordHash, err := crypto.HashPassword(req.NewPassword)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	user.PasswordHash = passwordHash

	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	if err := s.producer.PasswordChanged(r.Context(), user, req.NewPassword); err != nil {
		log.Error().Err(err).Str("wsn_id", user.WsnID).Msg("Failed to enqueue password change")
		s.respondError(w, http.StatusInternalServerError, "failed to enqueue password change")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

// HandleBanUser suspends a subscriber's portal and hotspot access
func (s *RESTServer) HandleBanUser(w http.ResponseWriter, r *http.Request) {
	s.setBanState(w, r, true)
}

// HandleUnbanUser restores a subscriber's portal and hotspot access
func (s *RESTServer) HandleUnbanUser(w http.ResponseWriter, r *http.Request) {
	s.setBanState(w, r, false)
}

func (s *RESTServer) setBanState(w http.ResponseWriter, r *http.Request, banned bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "user not found")
		return
	}

	user.IsActive = !banned
	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	if banned {
		err = s.producer.UserBanned(r.Context(), user)
	} else {
		err = s.producer.UserUnbanned(r.Context(), user)
	}
	if err != nil {
		log.Error().Err(err).Str("wsn_id", user.WsnID).Msg("Failed to enqueue ban state change")
		s.respondError(w, http.StatusInternalServerError, "failed to enqueue hotspot update")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

// ========== Billing handlers ==========

// HandlePaymentConfirmed reacts to a successful payment: the account
// is healed if missing, moved to the purchased profile and re-enabled.
// Provisioning failure never rolls the payment back.
func (s *RESTServer) HandlePaymentConfirmed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  uuid.UUID `json:"userId"`
		Profile string    `json:"profile"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.GetUser(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "user not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "failed to get user")
		return
	}

	if err := s.producer.PaymentConfirmed(r.Context(), user, req.Profile); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to enqueue provisioning")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

// ========== Job handlers ==========

// HandleListJobs lists provisioning jobs, optionally by state
func (s *RESTServer) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	var state *models.JobState
	if v := r.URL.Query().Get("state"); v != "" {
		js := models.JobState(v)
		state = &js
	}

	jobs, total, err := s.store.ListJobs(r.Context(), state, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"total": total,
	})
}

// HandleGetJob returns one job
func (s *RESTServer) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "job not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.respondJSON(w, http.StatusOK, job)
}

// ========== Event handlers ==========

// HandleListEvents lists provisioning events, newest first
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	events, total, err := s.store.ListEventLogs(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}

// ========== Helpers ==========

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
