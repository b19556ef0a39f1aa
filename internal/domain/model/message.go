package model

import "time"

// Message is a legacy message released to its recipient either on its
// delivery date or when the owner's switch triggers. Messages sharing a
// ChainID form a chain ordered by Generation.
type Message struct {
	ID                   string
	UserID               *int64 // nil for chain replies written by recipients
	Title                string
	Content              string
	RecipientEmail       string
	DeliveryDate         time.Time
	Status               MessageStatus
	CreatedAt            time.Time
	SentAt               *time.Time
	JobID                string
	ChainID              string
	Generation           int
	ParentID             string
	SenderName           string
	RecipientAccessToken string
	LeaseUntil           *time.Time
}

// IsChainReply reports whether the message extends an earlier generation.
func (m Message) IsChainReply() bool {
	return m.ParentID != ""
}

// ChainView is what a recipient sees when opening a message by its access token.
type ChainView struct {
	Message          Message
	ChainID          string
	Generation       int
	TotalGenerations int
	ParentToken      string
}

// DeliveryStats summarizes message statuses for a user or for the whole system.
type DeliveryStats struct {
	Total           int     `json:"total"`
	Created         int     `json:"created"`
	Scheduled       int     `json:"scheduled"`
	Pending         int     `json:"pending"`
	Sent            int     `json:"sent"`
	Failed          int     `json:"failed"`
	FailedRetryable int     `json:"failed_retryable"`
	FailedTerminal  int     `json:"failed_terminal"`
	DeliveryRate    float64 `json:"delivery_rate"`
	Archivable      int     `json:"archivable"`
}
