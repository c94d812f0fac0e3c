package models

// SessionState represents the lifecycle state of an account session
type SessionState string

const (
	SessionIdle              SessionState = "idle"
	SessionConnecting        SessionState = "connecting"
	SessionAwaitingChallenge SessionState = "awaitingChallenge"
	SessionConnected         SessionState = "connected"
	SessionClosed            SessionState = "closed"
)

// LinkState represents the local-link state of a target
type LinkState string

const (
	LinkUnknown    LinkState = "unknown"
	LinkConnecting LinkState = "connecting"
	LinkReady      LinkState = "ready"
	LinkLost       LinkState = "lost"
)

// TargetConnection tracks one device or station known to a session
type TargetConnection struct {
	TargetID string    `json:"targetId"`
	Name     string    `json:"name"`
	Station  bool      `json:"station"`
	Link     LinkState `json:"link"`
}

// ChallengeKind represents the kind of second authentication step
type ChallengeKind string

const (
	ChallengeTwoFactor ChallengeKind = "twoFactor"
	ChallengeCaptcha   ChallengeKind = "captcha"
)

// Challenge is a pending second authentication step. It exists only
// between a challenge-required signal and its resolution or the next
// connect attempt, and is never persisted.
type Challenge struct {
	Kind ChallengeKind `json:"kind"`
	ID   string        `json:"id"`
	// Image carries the captcha payload, empty for two-factor challenges.
	Image []byte `json:"image,omitempty"`
}

// SessionStatus is a point-in-time snapshot of a session
type SessionStatus struct {
	AccountID      string               `json:"accountId"`
	State          SessionState         `json:"state"`
	Connected      bool                 `json:"connected"`
	CloudConnected bool                 `json:"cloudConnected"`
	LocalLinks     map[string]LinkState `json:"localLinks"`
	Error          string               `json:"error,omitempty"`
}
