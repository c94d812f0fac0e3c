package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/devicehub-server/devicehub-server/internal/models"
	"github.com/devicehub-server/devicehub-server/internal/storage"
	"github.com/devicehub-server/devicehub-server/pkg/crypto"
)

// ========== Health ==========

func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"name":    s.config.Server.Name,
		"version": s.config.Server.Version,
	})
}

// ========== Auth handlers ==========

// HandleLogin handles operator login
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

	now := time.Now()
	user.LastLoginAt = &now
	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		log.Warn().Err(err).Msg("Failed to record login time")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
		"user":         user,
	})
}

// HandleRefresh exchanges a refresh token for a new token pair
func (s *RESTServer) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, err := s.auth.VerifyRefreshToken(req.RefreshToken)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil || !user.IsActive {
		s.respondError(w, http.StatusUnauthorized, "unknown user")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair(user)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
	})
}

// ========== Account handlers ==========

func (s *RESTServer) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	accounts, total, err := s.store.ListAccounts(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":  total,
		"result": accounts,
	})
}

func (s *RESTServer) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"accountId"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		Password  string `json:"password"`
		Country   string `json:"country"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID == "" || req.Email == "" || req.Password == "" {
		s.respondError(w, http.StatusBadRequest, "accountId, email and password are required")
		return
	}
	if s.credKey == nil {
		s.respondError(w, http.StatusInternalServerError, "credential key not configured")
		return
	}

	encrypted, err := crypto.Encrypt(s.credKey, []byte(req.Password))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to encrypt credentials")
		return
	}

	account := &models.Account{
		AccountID:         req.AccountID,
		Name:              req.Name,
		Email:             req.Email,
		Country:           req.Country,
		EncryptedPassword: encrypted,
	}
	if account.Country == "" {
		account.Country = s.config.Cloud.Country
	}

	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "account already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, account)
}

func (s *RESTServer) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountFromRequest(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, account)
}

func (s *RESTServer) HandleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountFromRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
		Country  string `json:"country"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != "" {
		account.Name = req.Name
	}
	if req.Country != "" {
		account.Country = req.Country
	}
	if req.Password != "" {
		if s.credKey == nil {
			s.respondError(w, http.StatusInternalServerError, "credential key not configured")
			return
		}
		encrypted, err := crypto.Encrypt(s.credKey, []byte(req.Password))
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "failed to encrypt credentials")
			return
		}
		account.EncryptedPassword = encrypted
	}

	if err := s.store.UpdateAccount(r.Context(), account); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, account)
}

func (s *RESTServer) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountFromRequest(w, r)
	if !ok {
		return
	}

	// Tear down any live session before removing the record.
	s.registry.Release(account.AccountID)

	if err := s.store.DeleteAccount(r.Context(), account.ID); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusNoContent, nil)
}

// HandleListEvents returns the persisted event history for an account
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountFromRequest(w, r)
	if !ok {
		return
	}

	limit, offset := pagination(r)
	events, total, err := s.store.ListEventLogs(r.Context(), account.AccountID, r.URL.Query().Get("target"), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":  total,
		"result": events,
	})
}

// ========== Helpers ==========

// accountFromRequest resolves the {id} path parameter, accepting
// either the record uuid or the cloud account id.
func (s *RESTServer) accountFromRequest(w http.ResponseWriter, r *http.Request) (*models.Account, bool) {
	idParam := chi.URLParam(r, "id")

	var account *models.Account
	var err error
	if id, parseErr := uuid.Parse(idParam); parseErr == nil {
		account, err = s.store.GetAccount(r.Context(), id)
	} else {
		account, err = s.store.GetAccountByAccountID(r.Context(), idParam)
	}

	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "account not found")
		return nil, false
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return account, true
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
