package bot

import (
	"encoding/json"

	"github.com/google/uuid"
)

// DefaultModel is used when a caller does not name a model.
const DefaultModel = "text-davinci-002-render-sha"

// Author identifies who produced a message.
type Author struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

// Content is the text payload of a message.
type Content struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}

// Message is one element of the messages array posted upstream.
type Message struct {
	ID       string         `json:"id"`
	Author   Author         `json:"author"`
	Content  Content        `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// NewTextMessage builds a text message with a fresh id.
func NewTextMessage(role, text string) Message {
	return Message{
		ID:       uuid.NewString(),
		Author:   Author{Role: role},
		Content:  Content{ContentType: "text", Parts: []string{text}},
		Metadata: map[string]any{},
	}
}

// conversationRequest is the body posted to the conversation endpoint.
// ConversationID is a pointer so a fresh thread serializes as null.
type conversationRequest struct {
	Action                     string    `json:"action"`
	Messages                   []Message `json:"messages,omitempty"`
	ConversationID             *string   `json:"conversation_id"`
	ParentMessageID            string    `json:"parent_message_id"`
	Model                      string    `json:"model"`
	HistoryAndTrainingDisabled bool      `json:"history_and_training_disabled"`
	ArkoseToken                string    `json:"arkose_token,omitempty"`
}

// Event is one parsed assistant turn from the upstream stream. The
// scheduler drains the sequence and keeps the last one.
type Event struct {
	Author         Author `json:"author"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	ParentID       string `json:"parent_id"`
	Model          string `json:"model"`
	FinishDetails  string `json:"finish_details"`
	EndTurn        bool   `json:"end_turn"`
	Recipient      string `json:"recipient"`
	Citations      []any  `json:"citations"`

	// Email of the account that served the turn, attached by the scheduler.
	Email string `json:"email,omitempty"`
}

// AuthorJSON renders the author for the message audit table.
func (e *Event) AuthorJSON() string {
	b, err := json.Marshal(e.Author)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// streamLine is the shape of one upstream data line.
type streamLine struct {
	ConversationID string `json:"conversation_id"`
	Message        *struct {
		ID      string `json:"id"`
		Author  Author `json:"author"`
		Content *struct {
			ContentType string   `json:"content_type"`
			Parts       []string `json:"parts"`
		} `json:"content"`
		EndTurn   *bool  `json:"end_turn"`
		Recipient string `json:"recipient"`
		Metadata  struct {
			ModelSlug     string `json:"model_slug"`
			Citations     []any  `json:"citations"`
			FinishDetails *struct {
				Type string `json:"type"`
			} `json:"finish_details"`
		} `json:"metadata"`
	} `json:"message"`
}
