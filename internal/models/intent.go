package models

// Intent labels the capability a request should be routed to.
type Intent string

const (
	IntentImageGeneration Intent = "image_generation"
	IntentChat            Intent = "chat"
	IntentDatabaseQuery   Intent = "database_query"
	IntentChatRoom        Intent = "chat_room"
	IntentR2Explorer      Intent = "r2_explorer"
)

// Known reports whether the router has a dedicated branch for the intent.
func (i Intent) Known() bool {
	switch i {
	case IntentImageGeneration, IntentChat, IntentDatabaseQuery, IntentChatRoom, IntentR2Explorer:
		return true
	default:
		return false
	}
}

// IntentVerdict is the classifier output. IsSafe is a pointer so that a
// missing field can be told apart from an explicit false.
type IntentVerdict struct {
	Intent Intent `json:"intent"`
	IsSafe *bool  `json:"isSafe"`
}

// Safe treats an absent isSafe as unsafe.
func (v IntentVerdict) Safe() bool {
	return v.IsSafe != nil && *v.IsSafe
}

// CapabilityResult is what a capability caller hands back to the gateway.
type CapabilityResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}
