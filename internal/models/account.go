package models

import (
	"time"

	"github.com/google/uuid"
)

// Account represents a remote smart-device cloud account whose session
// this server manages. Cloud credentials are stored encrypted and are
// only decrypted when a session is acquired.
type Account struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	// AccountID is the cloud-side account identity, one live session
	// per AccountID system-wide.
	AccountID string `json:"accountId" db:"account_id"`
	Name      string `json:"name" db:"name"`
	Email     string `json:"email" db:"email"`
	Country   string `json:"country" db:"country"`

	EncryptedPassword []byte `json:"-" db:"encrypted_password"`
}

// EventLog is a persisted record of a published domain event
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	AccountID  string    `json:"accountId" db:"account_id"`
	TargetID   string    `json:"targetId" db:"target_id"`
	TargetName string    `json:"targetName" db:"target_name"`
	Type       EventType `json:"type" db:"type"`

	Details Variables `json:"details,omitempty" db:"details"`
}
