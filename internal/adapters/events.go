package adapters

import (
	"errors"
	"time"
)

// EventType is a host ad event
type EventType string

// Host ad events
const (
	EventLoaded          EventType = "loaded"
	EventFailedToLoad    EventType = "failed_to_load"
	EventOpened          EventType = "opened"
	EventImpression      EventType = "impression"
	EventClicked         EventType = "clicked"
	EventLeftApplication EventType = "left_application"
	EventClosed          EventType = "closed"
	EventFailedToShow    EventType = "failed_to_show"
	EventRewarded        EventType = "rewarded"
	EventVideoStarted    EventType = "video_started"
	EventVideoCompleted  EventType = "video_completed"
	EventVideoMuted      EventType = "video_muted"
	EventVideoUnmuted    EventType = "video_unmuted"
)

// NetworkEvent is a callback raised by a network SDK for a loaded ad
type NetworkEvent struct {
	Network   string            `json:"network"`
	AdID      string            `json:"ad_id"`
	Format    Format            `json:"format"`
	Name      string            `json:"name"`
	Payload   map[string]string `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
}

// ErrorInfo is the error attached to failure events
type ErrorInfo struct {
	Code    int    `json:"code"`
	Domain  string `json:"domain"`
	Message string `json:"message"`
}

// NewErrorInfo converts err into the upstream error representation
func NewErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return &ErrorInfo{Code: ae.Code.HostCode(), Domain: ae.Domain(), Message: ae.Error()}
	}
	return &ErrorInfo{Code: 0, Domain: "mediation", Message: err.Error()}
}

// Event is a host ad event delivered to the app's listener
type Event struct {
	Type      EventType  `json:"type"`
	AdID      string     `json:"ad_id,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	AdUnitID  string     `json:"ad_unit_id,omitempty"`
	Network   string     `json:"network"`
	Format    Format     `json:"format,omitempty"`
	Reward    *Reward    `json:"reward,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
