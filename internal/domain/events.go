package domain

import "time"

// Action is a reply button attached to an outbound chat message.
type Action struct {
	Label string `json:"label"`
	ID    string `json:"action_id"`
}

// OutboundMessage is published for the chat transport to deliver.
type OutboundMessage struct {
	ID          string    `json:"id"`
	RecipientID int64     `json:"recipient_id"`
	Text        string    `json:"text"`
	Actions     []Action  `json:"actions,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ChatAction is an inbound button press or text reply relayed by the chat
// transport. Payload carries free text such as a submitted price.
type ChatAction struct {
	UserID    int64     `json:"user_id"`
	ActionID  string    `json:"action_id"`
	Payload   string    `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
