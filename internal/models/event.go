package models

import (
	"encoding/json"
	"time"
)

// EventType represents normalized device event types
type EventType string

const (
	EventMotion          EventType = "motion"
	EventPersonDetected  EventType = "personDetected"
	EventRings           EventType = "rings"
	EventCryingDetected  EventType = "cryingDetected"
	EventSoundDetected   EventType = "soundDetected"
	EventPropertyChanged EventType = "propertyChanged"
)

// EventValue is the typed payload of a DomainEvent. The concrete type
// depends on the event type: Detection for simple detections,
// PersonDetection for person detection, PropertyChange for property
// changes.
type EventValue interface {
	isEventValue()
}

// Detection is the payload of simple boolean detections
type Detection struct {
	Detected bool
}

// PersonDetection is the payload of person detection events
type PersonDetection struct {
	Detected bool   `json:"detected"`
	Person   string `json:"person"`
}

// PropertyChange is the payload of property-change events
type PropertyChange struct {
	Property string      `json:"property"`
	Value    interface{} `json:"value"`
}

func (Detection) isEventValue()       {}
func (PersonDetection) isEventValue() {}
func (PropertyChange) isEventValue()  {}

// DomainEvent is a normalized, typed notification derived from raw
// device and station signals. Immutable once constructed.
type DomainEvent struct {
	Type       EventType
	TargetID   string
	TargetName string
	Value      EventValue
	Timestamp  time.Time
}

// NewDetectionEvent builds a simple boolean detection event
func NewDetectionEvent(typ EventType, targetID, targetName string, detected bool) DomainEvent {
	return DomainEvent{
		Type:       typ,
		TargetID:   targetID,
		TargetName: targetName,
		Value:      Detection{Detected: detected},
		Timestamp:  time.Now(),
	}
}

// NewPersonDetectedEvent builds a person detection event
func NewPersonDetectedEvent(targetID, targetName string, detected bool, person string) DomainEvent {
	return DomainEvent{
		Type:       EventPersonDetected,
		TargetID:   targetID,
		TargetName: targetName,
		Value:      PersonDetection{Detected: detected, Person: person},
		Timestamp:  time.Now(),
	}
}

// NewPropertyChangedEvent builds a property-change event
func NewPropertyChangedEvent(targetID, targetName, property string, value interface{}) DomainEvent {
	return DomainEvent{
		Type:       EventPropertyChanged,
		TargetID:   targetID,
		TargetName: targetName,
		Value:      PropertyChange{Property: property, Value: value},
		Timestamp:  time.Now(),
	}
}

// MarshalJSON renders the wire shape {type, targetId, targetName,
// value, timestamp}. Simple detections marshal their value as a bare
// boolean.
func (e DomainEvent) MarshalJSON() ([]byte, error) {
	var value interface{}
	switch v := e.Value.(type) {
	case Detection:
		value = v.Detected
	default:
		value = e.Value
	}

	return json.Marshal(struct {
		Type       EventType   `json:"type"`
		TargetID   string      `json:"targetId"`
		TargetName string      `json:"targetName"`
		Value      interface{} `json:"value"`
		Timestamp  time.Time   `json:"timestamp"`
	}{
		Type:       e.Type,
		TargetID:   e.TargetID,
		TargetName: e.TargetName,
		Value:      value,
		Timestamp:  e.Timestamp,
	})
}
