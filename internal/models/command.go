package models

import (
	"encoding/json"
	"fmt"
)

// Command is an outgoing device or station command. Each command is an
// explicit variant validated at construction time.
type Command interface {
	CommandName() string
	Validate() error
}

// Snooze silences alarms on a target for a duration
type Snooze struct {
	DurationSeconds int `json:"durationSeconds"`
}

func (Snooze) CommandName() string { return "snooze" }

func (c Snooze) Validate() error {
	if c.DurationSeconds <= 0 {
		return fmt.Errorf("snooze: duration must be positive, got %d", c.DurationSeconds)
	}
	return nil
}

// SetProperty sets a named property on a target
type SetProperty struct {
	Property string      `json:"property"`
	Value    interface{} `json:"value"`
}

func (SetProperty) CommandName() string { return "setProperty" }

func (c SetProperty) Validate() error {
	if c.Property == "" {
		return fmt.Errorf("setProperty: property name is required")
	}
	return nil
}

// PanTiltDirection represents camera movement directions
type PanTiltDirection string

const (
	PanLeft  PanTiltDirection = "left"
	PanRight PanTiltDirection = "right"
	TiltUp   PanTiltDirection = "up"
	TiltDown PanTiltDirection = "down"
)

// PanTilt moves a pan/tilt camera. Speed is optional.
type PanTilt struct {
	Direction PanTiltDirection `json:"direction"`
	Speed     *int             `json:"speed,omitempty"`
}

func (PanTilt) CommandName() string { return "panTilt" }

func (c PanTilt) Validate() error {
	switch c.Direction {
	case PanLeft, PanRight, TiltUp, TiltDown:
	default:
		return fmt.Errorf("panTilt: invalid direction %q", c.Direction)
	}
	if c.Speed != nil && (*c.Speed < 1 || *c.Speed > 5) {
		return fmt.Errorf("panTilt: speed must be between 1 and 5, got %d", *c.Speed)
	}
	return nil
}

// TriggerAlarm sounds the alarm on a target
type TriggerAlarm struct {
	Seconds int `json:"seconds"`
}

func (TriggerAlarm) CommandName() string { return "triggerAlarm" }

func (c TriggerAlarm) Validate() error {
	if c.Seconds <= 0 {
		return fmt.Errorf("triggerAlarm: seconds must be positive, got %d", c.Seconds)
	}
	return nil
}

// GuardMode represents station guard modes
type GuardMode string

const (
	GuardModeAway     GuardMode = "away"
	GuardModeHome     GuardMode = "home"
	GuardModeDisarmed GuardMode = "disarmed"
	GuardModeSchedule GuardMode = "schedule"
)

// SetGuardMode switches a station's guard mode
type SetGuardMode struct {
	Mode GuardMode `json:"mode"`
}

func (SetGuardMode) CommandName() string { return "setGuardMode" }

func (c SetGuardMode) Validate() error {
	switch c.Mode {
	case GuardModeAway, GuardModeHome, GuardModeDisarmed, GuardModeSchedule:
		return nil
	default:
		return fmt.Errorf("setGuardMode: invalid mode %q", c.Mode)
	}
}

// DecodeCommand builds and validates a command from its wire name and
// raw options payload.
func DecodeCommand(name string, options json.RawMessage) (Command, error) {
	if len(options) == 0 {
		options = json.RawMessage("{}")
	}

	var cmd Command
	switch name {
	case "snooze":
		var c Snooze
		if err := json.Unmarshal(options, &c); err != nil {
			return nil, fmt.Errorf("decode snooze options: %w", err)
		}
		cmd = c
	case "setProperty":
		var c SetProperty
		if err := json.Unmarshal(options, &c); err != nil {
			return nil, fmt.Errorf("decode setProperty options: %w", err)
		}
		cmd = c
	case "panTilt":
		var c PanTilt
		if err := json.Unmarshal(options, &c); err != nil {
			return nil, fmt.Errorf("decode panTilt options: %w", err)
		}
		cmd = c
	case "triggerAlarm":
		var c TriggerAlarm
		if err := json.Unmarshal(options, &c); err != nil {
			return nil, fmt.Errorf("decode triggerAlarm options: %w", err)
		}
		cmd = c
	case "setGuardMode":
		var c SetGuardMode
		if err := json.Unmarshal(options, &c); err != nil {
			return nil, fmt.Errorf("decode setGuardMode options: %w", err)
		}
		cmd = c
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// CommandResult is the outcome of a dispatched command
type CommandResult struct {
	Success bool   `json:"success"`
	Code    int    `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}
