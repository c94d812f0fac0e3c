package devicesvc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/devicehub-server/devicehub-server/internal/models"
)

// SimOptions configures the simulated device service
type SimOptions struct {
	Targets          []TargetInfo
	RequireTwoFactor bool
	TwoFactorCode    string
	ConnectDelay     time.Duration
	LinkDelay        time.Duration
}

// simClient is an in-process Client implementation used for local
// development and end-to-end runs without the proprietary cloud. It
// honors the client contract: connect outcomes, link transitions and
// command results all arrive on the event stream, command results in
// dispatch order without an identifier.
type simClient struct {
	cfg  Config
	opts SimOptions

	mu        sync.Mutex
	events    chan Event
	connected bool
	closed    bool

	challengeID string
}

// simState is the opaque per-account blob persisted under StateDir
type simState struct {
	AccountID     string    `json:"accountId"`
	TrustedDevice bool      `json:"trustedDevice"`
	SavedAt       time.Time `json:"savedAt"`
}

// NewSimFactory returns a Factory producing simulated clients
func NewSimFactory(opts SimOptions) Factory {
	return func(cfg Config) (Client, error) {
		if cfg.Email == "" || cfg.Password == "" {
			return nil, fmt.Errorf("simulated client: email and password are required")
		}
		return &simClient{
			cfg:    cfg,
			opts:   opts,
			events: make(chan Event, 64),
		}, nil
	}
}

func (c *simClient) Connect(resp *ChallengeResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client is closed")
	}

	if resp != nil {
		if resp.Kind != models.ChallengeTwoFactor || resp.ChallengeID != c.challengeID {
			go c.emit(CloudDisconnected{Err: fmt.Errorf("challenge mismatch")})
			return nil
		}
		if c.opts.TwoFactorCode != "" && resp.Solution != c.opts.TwoFactorCode {
			go c.emit(CloudDisconnected{Err: fmt.Errorf("invalid verification code")})
			return nil
		}
		c.saveState()
		go c.completeConnect()
		return nil
	}

	if c.opts.RequireTwoFactor && !c.loadState().TrustedDevice {
		c.challengeID = uuid.New().String()
		id := c.challengeID
		go func() {
			time.Sleep(c.opts.ConnectDelay)
			c.emit(ChallengeRequired{Kind: models.ChallengeTwoFactor, ID: id})
		}()
		return nil
	}

	go c.completeConnect()
	return nil
}

func (c *simClient) completeConnect() {
	time.Sleep(c.opts.ConnectDelay)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.connected = true
	c.mu.Unlock()

	c.emit(CloudConnected{})

	for _, t := range c.opts.Targets {
		c.emit(TargetDetected{Info: t})
		c.emit(LinkStateChanged{TargetID: t.TargetID, Name: t.Name, State: models.LinkConnecting})
	}

	time.Sleep(c.opts.LinkDelay)
	for _, t := range c.opts.Targets {
		c.emit(LinkStateChanged{TargetID: t.TargetID, Name: t.Name, State: models.LinkReady})
	}
}

func (c *simClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.connected = false
	close(c.events)
	return nil
}

func (c *simClient) ListDevices() ([]TargetInfo, error) {
	return c.listTargets(false)
}

func (c *simClient) ListStations() ([]TargetInfo, error) {
	return c.listTargets(true)
}

func (c *simClient) listTargets(station bool) ([]TargetInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, fmt.Errorf("not connected")
	}
	var out []TargetInfo
	for _, t := range c.opts.Targets {
		if t.Station == station {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *simClient) GetProperty(targetID, name string) (interface{}, error) {
	if _, err := c.target(targetID); err != nil {
		return nil, err
	}
	// The simulator has no real property model; report enabled for
	// everything so round trips are observable.
	return true, nil
}

func (c *simClient) SetProperty(targetID, name string, value interface{}) error {
	t, err := c.target(targetID)
	if err != nil {
		return err
	}
	go c.emit(PropertyChanged{TargetID: t.TargetID, Name: t.Name, Property: name, Value: value})
	return nil
}

func (c *simClient) SendCommand(targetID string, cmd models.Command) error {
	t, err := c.target(targetID)
	if err != nil {
		return err
	}

	log.Debug().
		Str("targetID", targetID).
		Str("command", cmd.CommandName()).
		Msg("Simulated command dispatched")

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.emit(CommandOutcome{TargetID: t.TargetID, Success: true})
	}()
	return nil
}

func (c *simClient) Events() <-chan Event {
	return c.events
}

func (c *simClient) target(targetID string) (TargetInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return TargetInfo{}, fmt.Errorf("not connected")
	}
	for _, t := range c.opts.Targets {
		if t.TargetID == targetID {
			return t, nil
		}
	}
	return TargetInfo{}, fmt.Errorf("unknown target %q", targetID)
}

// emit drops events when nobody is draining the stream; the simulator
// never blocks its timers on a stalled consumer.
func (c *simClient) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}

func (c *simClient) statePath() string {
	return filepath.Join(c.cfg.StateDir, c.cfg.AccountID+".json")
}

func (c *simClient) loadState() simState {
	var st simState
	if c.cfg.StateDir == "" {
		return st
	}
	data, err := os.ReadFile(c.statePath())
	if err != nil {
		return st
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return simState{}
	}
	return st
}

func (c *simClient) saveState() {
	if c.cfg.StateDir == "" {
		return
	}
	st := simState{AccountID: c.cfg.AccountID, TrustedDevice: true, SavedAt: time.Now()}
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := os.MkdirAll(c.cfg.StateDir, 0o700); err != nil {
		log.Warn().Err(err).Msg("Failed to create state directory")
		return
	}
	if err := os.WriteFile(c.statePath(), data, 0o600); err != nil {
		log.Warn().Err(err).Str("path", c.statePath()).Msg("Failed to persist session state")
	}
}
