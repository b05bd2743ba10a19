// Package events defines event types and publisher interfaces for registry change events.
package events

// Registry change actions.
const (
	ActionRegistered = "registered"
	ActionReset      = "reset"
)

// RegistryChangedEvent is emitted when the method registry changes.
type RegistryChangedEvent struct {
	Action      string   `json:"action"`
	Service     string   `json:"service,omitempty"`
	Method      string   `json:"method,omitempty"`
	EntryPoints []string `json:"entryPoints,omitempty"`
	Protocols   []string `json:"protocols,omitempty"`
	Count       int      `json:"count"`
	Timestamp   string   `json:"timestamp"`
}
