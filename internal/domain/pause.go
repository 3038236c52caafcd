package domain

import "time"

// PauseAllPhone is the phone sentinel of a global pause record. A row
// with this value silences the assistant for every conversation of
// the client instance.
const PauseAllPhone = "ALL"

// Pause origins.
const (
	PausedByClient = "client"
	PausedByGlobal = "global"
)

// PauseRecord marks a conversation, or the whole instance, as muted.
// While a matching record exists inbound messages are stored but never
// forwarded to the assistant.
type PauseRecord struct {
	ID          int64     `json:"id,string" gorm:"primaryKey"`
	ClientId    int64     `gorm:"index:idx_pause_client_phone,unique" json:"client_id,string"`
	PhoneNumber string    `gorm:"index:idx_pause_client_phone,unique" json:"phone_number"`
	PausedBy    string    `json:"paused_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName Specify table name
func (PauseRecord) TableName() string {
	return "pause_record"
}
