package domain

import (
	"strings"
	"time"
)

// Client instance lifecycle statuses.
const (
	ClientStatusPending      = "pending"
	ClientStatusAwaitingScan = "awaiting_scan"
	ClientStatusConnecting   = "connecting"
	ClientStatusActive       = "active"
	ClientStatusInactive     = "inactive"
)

// NormalizeStatus maps provider connection states onto the client
// lifecycle vocabulary. The provider reports "open" or "connected"
// for an established session.
func NormalizeStatus(state string) string {
	switch strings.ToLower(state) {
	case "open", "connected":
		return ClientStatusActive
	case "connecting":
		return ClientStatusConnecting
	case "close", "closed", "disconnected":
		return ClientStatusInactive
	default:
		return strings.ToLower(state)
	}
}

// ClientInstance is a tenant of the platform: one WhatsApp instance on
// the provider bound to one OpenAI assistant.
type ClientInstance struct {
	ID             int64     `json:"id,string" gorm:"primaryKey"`
	Name           string    `gorm:"index" json:"name" form:"name"`
	Email          string    `gorm:"index" json:"email" form:"email"`
	InstanceName   string    `gorm:"uniqueIndex" json:"instance_name"`
	InstanceToken  string    `json:"instance_token"`
	OpenaiApiKey   string    `json:"openai_api_key" form:"openai_api_key"`
	AssistantId    string    `json:"assistant_id" form:"assistant_id"`
	Status         string    `gorm:"index" json:"status"`
	ConnectedPhone string    `json:"connected_phone"`
	LandingUrl     string    `gorm:"uniqueIndex" json:"landing_url"`
	Remark         string    `json:"remark" form:"remark"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName Specify table name
func (ClientInstance) TableName() string {
	return "client_instance"
}

// IsConnected reports whether the instance currently has an
// established WhatsApp session.
func (c *ClientInstance) IsConnected() bool {
	return c.Status == ClientStatusActive
}
