package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is the comment thread attached to one field response.
// At most one conversation exists per response; Resolved drives the
// approval gate for stage advancement.
type Conversation struct {
	ID              uuid.UUID `json:"id"`
	FieldResponseID uuid.UUID `json:"field_response_id"`
	OwnerID         string    `json:"owner_id"`
	Resolved        bool      `json:"resolved"`
	CreatedAt       time.Time `json:"created_at"`
	Comments        []Comment `json:"comments,omitempty"`
}

// UnreadCount counts comments not yet read, excluding the reader's own.
func (c *Conversation) UnreadCount(readerID string) int {
	n := 0
	for i := range c.Comments {
		if !c.Comments[i].Read && c.Comments[i].OwnerID != readerID {
			n++
		}
	}
	return n
}

// Comment is one instructor remark inside a conversation.
type Comment struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	OwnerID        string    `json:"owner_id"`
	Value          string    `json:"value"`
	CommentDate    time.Time `json:"comment_date"`
	Read           bool      `json:"read"`
}
