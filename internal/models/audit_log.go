package models

// AuditLog records each answered discovery request so that the rule versions
// behind a justification can be traced from its request id.
type AuditLog struct {
	Base
	RequestID    string `gorm:"not null;index" json:"request_id"`
	Action       string `gorm:"not null" json:"action"`
	ResourceType string `gorm:"not null" json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	IPAddress    string `json:"ip_address"`
	Changes      string `json:"changes,omitempty"`
}
