// Package event defines the structured types a preview session emits to its
// host: state-change events, rendered snapshots and inspected elements.
// These are the public contract; sinks and transports serialise them as JSON.
package event

import (
	"crypto/sha256"
	"fmt"

	"github.com/hazyhaar/livepreview/preview/diag"
)

// Stage is the host-visible state reported by an Event.
type Stage string

const (
	StageMounting      Stage = "mounting"
	StageRendered      Stage = "rendered"
	StageError         Stage = "error"
	StageTransitioning Stage = "transitioning"
	StageDisposed      Stage = "disposed"
)

// Transition phases carried by StageTransitioning events.
const (
	TransitionStart = "start"
	TransitionEnd   = "end"
)

// Event is one state change of a render session.
type Event struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Stage       Stage     `json:"stage"`
	Version     int64     `json:"version"`
	Generation  uint64    `json:"generation"`
	Transition  string    `json:"transition,omitempty"`
	Diagnostics diag.List `json:"diagnostics,omitempty"`
	Timestamp   int64     `json:"timestamp"` // epoch milliseconds
}

// Snapshot is the serialised output of one rendered version.
type Snapshot struct {
	Version   int64  `json:"version"`
	HTML      []byte `json:"html"`
	HTMLHash  string `json:"html_hash"`
	PNG       []byte `json:"png,omitempty"` // present only with a browser surface
	Failed    bool   `json:"failed,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// HashHTML returns the SHA-256 hex digest of a rendered document.
func HashHTML(html []byte) string {
	h := sha256.Sum256(html)
	return fmt.Sprintf("%x", h)
}

// Point is a viewport coordinate in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ElementInfo describes a rendered element for inspection tooling.
type ElementInfo struct {
	NodeID  string   `json:"node_id,omitempty"` // data-pv-id of the element
	Tag     string   `json:"tag"`
	Classes []string `json:"classes,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// Interaction is a user event driven into a rendered preview.
type Interaction struct {
	NodeID  string  `json:"node_id"`         // data-pv-id of the target element
	Type    string  `json:"type"`            // DOM event type: click, input, change, submit, keydown...
	Value   *string `json:"value,omitempty"` // new value for input/change
	Checked *bool   `json:"checked,omitempty"`
	Key     string  `json:"key,omitempty"` // for keyboard events
}
