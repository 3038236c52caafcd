package domain

import "time"

// ConversationThread binds one WhatsApp contact of a client instance
// to an assistant thread on the AI backend. The (client, phone) pair
// is unique so concurrent first messages converge on a single thread.
type ConversationThread struct {
	ID               int64     `json:"id,string" gorm:"primaryKey"`
	ClientId         int64     `gorm:"index:idx_thread_client_phone,unique" json:"client_id,string"`
	PhoneNumber      string    `gorm:"index:idx_thread_client_phone,unique" json:"phone_number"`
	ExternalThreadId string    `json:"external_thread_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName Specify table name
func (ConversationThread) TableName() string {
	return "conversation_thread"
}
