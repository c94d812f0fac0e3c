package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devicehub-server/devicehub-server/internal/devicesvc"
	"github.com/devicehub-server/devicehub-server/internal/models"
	"github.com/devicehub-server/devicehub-server/internal/session"
	"github.com/devicehub-server/devicehub-server/pkg/crypto"
)

// ========== Session lifecycle handlers ==========

// HandleConnect opens (or joins) the account's session and drives it
// toward connected. When the cloud demands a second authentication
// step the response carries the challenge instead of an error; the
// client resolves it via the 2fa or captcha endpoints.
func (s *RESTServer) HandleConnect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}

	err := sess.Connect(r.Context())
	if err == nil {
		s.respondJSON(w, http.StatusOK, sess.Status())
		return
	}

	var challengeErr *session.ChallengeRequiredError
	if errors.As(err, &challengeErr) {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status":    sess.Status(),
			"challenge": challengeErr.Challenge,
		})
		return
	}

	s.respondSessionError(w, err)
}

// HandleSubmitTwoFactor resolves a pending two-factor challenge
func (s *RESTServer) HandleSubmitTwoFactor(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.liveSessionFromRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		s.respondError(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := sess.SubmitTwoFactorCode(r.Context(), req.Code); err != nil {
		s.respondSessionError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sess.Status())
}

// HandleSubmitCaptcha resolves a pending captcha challenge by id
func (s *RESTServer) HandleSubmitCaptcha(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.liveSessionFromRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		ChallengeID string `json:"challengeId"`
		Solution    string `json:"solution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Solution == "" {
		s.respondError(w, http.StatusBadRequest, "challengeId and solution are required")
		return
	}

	if err := sess.SubmitCaptchaSolution(r.Context(), req.ChallengeID, req.Solution); err != nil {
		s.respondSessionError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sess.Status())
}

// HandleSessionStatus reports the session snapshot, including the
// pending challenge when one is waiting on the operator.
func (s *RESTServer) HandleSessionStatus(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountFromRequest(w, r)
	if !ok {
		return
	}

	sess, live := s.registry.Get(account.AccountID)
	if !live {
		s.respondJSON(w, http.StatusOK, models.SessionStatus{
			AccountID:  account.AccountID,
			State:      models.SessionIdle,
			LocalLinks: map[string]models.LinkState{},
		})
		return
	}

	payload := map[string]interface{}{"status": sess.Status()}
	if challenge, pending := sess.Challenge(); pending {
		payload["challenge"] = challenge
	}
	s.respondJSON(w, http.StatusOK, payload)
}

// HandleReleaseSession closes and removes the account's session
func (s *RESTServer) HandleReleaseSession(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountFromRequest(w, r)
	if !ok {
		return
	}
	s.registry.Release(account.AccountID)
	s.respondJSON(w, http.StatusNoContent, nil)
}

// ========== Target handlers ==========

func (s *RESTServer) HandleListTargets(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.liveSessionFromRequest(w, r)
	if !ok {
		return
	}
	targets := sess.Targets()
	if targets == nil {
		targets = []models.TargetConnection{}
	}
	s.respondJSON(w, http.StatusOK, targets)
}

// HandleSendCommand dispatches a named command to one target and waits
// for its outcome.
func (s *RESTServer) HandleSendCommand(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.liveSessionFromRequest(w, r)
	if !ok {
		return
	}
	targetID := chi.URLParam(r, "targetID")

	var req struct {
		Name    string          `json:"name"`
		Options json.RawMessage `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "command name is required")
		return
	}

	cmd, err := models.DecodeCommand(req.Name, req.Options)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := sess.SendCommand(r.Context(), targetID, cmd)
	if err != nil {
		var rejected *session.CommandRejectedError
		if errors.As(err, &rejected) {
			s.respondJSON(w, http.StatusOK, result)
			return
		}
		s.respondSessionError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// HandleAwaitReadiness blocks until the target's local link is ready
// or the timeout elapses. Timeout is an optional ?timeout= duration.
func (s *RESTServer) HandleAwaitReadiness(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.liveSessionFromRequest(w, r)
	if !ok {
		return
	}
	targetID := chi.URLParam(r, "targetID")

	timeout := s.config.Cloud.CommandReadyTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		timeout = d
	}

	if err := sess.AwaitReady(targetID, timeout); err != nil {
		s.respondSessionError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"target": targetID,
		"link":   string(models.LinkReady),
	})
}

func (s *RESTServer) HandleGetProperty(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.liveSessionFromRequest(w, r)
	if !ok {
		return
	}
	targetID := chi.URLParam(r, "targetID")
	name := chi.URLParam(r, "name")

	value, err := sess.GetProperty(targetID, name)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"target":   targetID,
		"property": name,
		"value":    value,
	})
}

func (s *RESTServer) HandleSetProperty(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.liveSessionFromRequest(w, r)
	if !ok {
		return
	}
	targetID := chi.URLParam(r, "targetID")
	name := chi.URLParam(r, "name")

	var req struct {
		Value interface{} `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := sess.SetProperty(targetID, name, req.Value); err != nil {
		s.respondSessionError(w, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

// ========== Helpers ==========

// sessionFromRequest loads the account, decrypts its stored cloud
// credentials and acquires (creating on first use) its session.
func (s *RESTServer) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	account, ok := s.accountFromRequest(w, r)
	if !ok {
		return nil, false
	}

	if s.credKey == nil {
		s.respondError(w, http.StatusInternalServerError, "credential key not configured")
		return nil, false
	}
	password, err := crypto.Decrypt(s.credKey, account.EncryptedPassword)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to decrypt credentials")
		return nil, false
	}

	sess, err := s.registry.Acquire(account.AccountID, devicesvc.Config{
		Email:    account.Email,
		Password: string(password),
		Country:  account.Country,
		StateDir: s.config.Cloud.StateDir,
	})
	if err != nil {
		s.respondSessionError(w, err)
		return nil, false
	}
	return sess, true
}

// liveSessionFromRequest resolves an already-running session; it never
// creates one. Endpoints that only make sense mid-session use this.
func (s *RESTServer) liveSessionFromRequest(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	account, ok := s.accountFromRequest(w, r)
	if !ok {
		return nil, false
	}
	sess, live := s.registry.Get(account.AccountID)
	if !live {
		s.respondError(w, http.StatusConflict, "no session for account")
		return nil, false
	}
	return sess, true
}

// respondSessionError maps session errors onto HTTP statuses
func (s *RESTServer) respondSessionError(w http.ResponseWriter, err error) {
	var authErr *session.AuthError
	var cfgErr *session.ConfigError

	switch {
	case errors.As(err, &authErr):
		s.respondError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &cfgErr):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrInvalidState):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNotConnected):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrTargetNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrConnectTimeout),
		errors.Is(err, session.ErrCommandTimeout),
		errors.Is(err, session.ErrReadinessTimeout):
		s.respondError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, session.ErrCancelled):
		s.respondError(w, http.StatusConflict, "session is closed")
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}
