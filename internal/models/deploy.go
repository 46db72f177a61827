package models

import "time"

// DeployedScript is the registry entry kept for each published script.
type DeployedScript struct {
	ScriptName string    `json:"scriptName"`
	WorkerID   string    `json:"workerId"`
	Routes     []string  `json:"routes"`
	DeployedAt time.Time `json:"deployedAt"`
}

// Signal is a notification ping received from, or relayed to, a sibling.
type Signal struct {
	ID         string    `json:"id"`
	Source     string    `json:"source,omitempty"`
	Payload    any       `json:"payload"`
	ReceivedAt time.Time `json:"receivedAt"`
}
