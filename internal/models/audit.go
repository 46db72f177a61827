package models

import "time"

type AuditStatus string

const (
	AuditSuccess AuditStatus = "SUCCESS"
	AuditBlocked AuditStatus = "BLOCKED"
	AuditFailed  AuditStatus = "FAILED"
)

// AuditRecord is written once per classified request and never updated.
type AuditRecord struct {
	ID            string        `json:"id"`
	Messages      []ChatMessage `json:"messages"`
	Intent        Intent        `json:"intent"`
	Route         Intent        `json:"route,omitempty"`
	Safe          bool          `json:"safe"`
	GenerateImage bool          `json:"generateImage,omitempty"`
	Response      any           `json:"response,omitempty"`
	Status        AuditStatus   `json:"status"`
	Timestamp     time.Time     `json:"timestamp"`
}
