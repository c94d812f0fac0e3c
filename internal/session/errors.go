package session

import (
	"errors"
	"fmt"

	"github.com/devicehub-server/devicehub-server/internal/models"
)

// Common errors
var (
	ErrConnectTimeout   = errors.New("connect timeout")
	ErrInvalidState     = errors.New("invalid state")
	ErrNotConnected     = errors.New("not connected")
	ErrCancelled        = errors.New("cancelled")
	ErrReadinessTimeout = errors.New("readiness timeout")
	ErrCommandTimeout   = errors.New("command timeout")
	ErrTargetNotFound   = errors.New("target not found")
)

// ConfigError reports missing or invalid account configuration
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// AuthError reports a failed authentication attempt
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// ChallengeRequiredError is a control signal, not a failure: the
// connect attempt needs a second authentication step. Callers match it
// with errors.As and resume via SubmitTwoFactorCode or
// SubmitCaptchaSolution.
type ChallengeRequiredError struct {
	Challenge models.Challenge
}

func (e *ChallengeRequiredError) Error() string {
	return fmt.Sprintf("challenge required: %s", e.Challenge.Kind)
}

// CommandRejectedError reports a command the cloud refused
type CommandRejectedError struct {
	Code int
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("command rejected: code %d", e.Code)
}
