package model

// Email is an outbound message handed to the mail transport.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}
