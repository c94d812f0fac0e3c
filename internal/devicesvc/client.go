// Package devicesvc defines the boundary to the device service client,
// the external capability that speaks the actual cloud and P2P
// protocols. The session core consumes it through the Client interface
// and its raw event stream; concrete protocol implementations live
// behind a Factory.
package devicesvc

import (
	"github.com/devicehub-server/devicehub-server/internal/models"
)

// Config carries everything a client needs to reach one cloud account.
// StateDir is a host-provided directory where the client may persist
// per-account session data; the format is owned by the client and
// opaque to the rest of the server.
type Config struct {
	AccountID string
	Email     string
	Password  string
	Country   string
	StateDir  string
}

// TargetInfo describes a device or station reported by the cloud
type TargetInfo struct {
	TargetID string
	Name     string
	Station  bool
	Model    string
}

// ChallengeResponse resumes a connect attempt that raised a challenge
type ChallengeResponse struct {
	Kind        models.ChallengeKind
	ChallengeID string
	Solution    string
}

// Client is the device service capability consumed by the session
// core. Connect sends credentials and returns immediately; connect
// outcomes, challenges, link signals, detections and command results
// all arrive asynchronously on Events. SendCommand is fire-and-forget:
// its outcome arrives as a CommandOutcome event carrying no command
// identifier, in dispatch order.
type Client interface {
	Connect(resp *ChallengeResponse) error
	Disconnect() error

	ListDevices() ([]TargetInfo, error)
	ListStations() ([]TargetInfo, error)

	GetProperty(targetID, name string) (interface{}, error)
	SetProperty(targetID, name string, value interface{}) error

	SendCommand(targetID string, cmd models.Command) error

	Events() <-chan Event
}

// Factory creates a client for one account
type Factory func(cfg Config) (Client, error)

// Event is a raw signal from the device service client
type Event interface {
	isEvent()
}

// CloudConnected signals a successful cloud connection
type CloudConnected struct{}

// CloudDisconnected signals loss of the cloud connection. Err is nil
// for a deliberate disconnect.
type CloudDisconnected struct {
	Err error
}

// ChallengeRequired signals that authentication needs a second step
type ChallengeRequired struct {
	Kind  models.ChallengeKind
	ID    string
	Image []byte
}

// LinkStateChanged signals a per-target local-link transition
type LinkStateChanged struct {
	TargetID string
	Name     string
	State    models.LinkState
}

// TargetDetected signals a newly observed device or station
type TargetDetected struct {
	Info TargetInfo
}

// DetectionChanged signals a detection state flip (motion, ring,
// crying, sound, person). Person is set only for person detection.
type DetectionChanged struct {
	TargetID string
	Name     string
	Type     models.EventType
	Detected bool
	Person   string
}

// PropertyChanged signals a device or station property update
type PropertyChanged struct {
	TargetID string
	Name     string
	Property string
	Value    interface{}
}

// CommandOutcome reports the result of the oldest in-flight command on
// this account. It carries no command identifier.
type CommandOutcome struct {
	TargetID string
	Success  bool
	Code     int
}

func (CloudConnected) isEvent()    {}
func (CloudDisconnected) isEvent() {}
func (ChallengeRequired) isEvent() {}
func (LinkStateChanged) isEvent()  {}
func (TargetDetected) isEvent()    {}
func (DetectionChanged) isEvent()  {}
func (PropertyChanged) isEvent()   {}
func (CommandOutcome) isEvent()    {}
