package domain

import "time"

// Chat message directions.
const (
	MessageInbound  = "inbound"
	MessageOutbound = "outbound"
)

// ChatMessage is one stored exchange line of a conversation, kept for
// the admin chat view and for audit.
type ChatMessage struct {
	ID          int64     `json:"id,string" gorm:"primaryKey"`
	ClientId    int64     `gorm:"index" json:"client_id,string"`
	PhoneNumber string    `gorm:"index" json:"phone_number"`
	Direction   string    `json:"direction"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName Specify table name
func (ChatMessage) TableName() string {
	return "chat_message"
}
