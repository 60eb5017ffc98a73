package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FieldResponse holds one record's answer history for one field. Values
// are append-only: edits add a FieldResponseValue, they never rewrite one.
type FieldResponse struct {
	ID       uuid.UUID `json:"id"`
	RecordID uuid.UUID `json:"record_id"`
	FieldID  uuid.UUID `json:"field_id"`
	// Values is ordered by ResponseDate ascending.
	Values       []FieldResponseValue `json:"values,omitempty"`
	Conversation *Conversation        `json:"conversation,omitempty"`
}

// CurrentValue returns the newest value, or nil when no value exists.
// Ties on ResponseDate go to the later entry, so values appended within
// the same instant resolve in append order.
func (fr *FieldResponse) CurrentValue() json.RawMessage {
	if len(fr.Values) == 0 {
		return nil
	}
	latest := &fr.Values[0]
	for i := range fr.Values {
		if !fr.Values[i].ResponseDate.Before(latest.ResponseDate) {
			latest = &fr.Values[i]
		}
	}
	return latest.Value
}

// Approved reports whether the response has no open conversation.
func (fr *FieldResponse) Approved() bool {
	return fr.Conversation == nil || fr.Conversation.Resolved
}

// FieldResponseValue is one immutable snapshot of a field's answer.
type FieldResponseValue struct {
	ID              uuid.UUID       `json:"id"`
	FieldResponseID uuid.UUID       `json:"field_response_id"`
	Value           json.RawMessage `json:"value"`
	ResponseDate    time.Time       `json:"response_date"`
}

// FileMetadata is the stored value of file and image fields. The blob
// bytes live in the blob store under Location.
type FileMetadata struct {
	Location string `json:"location"`
	Name     string `json:"fileName"`
	Caption  string `json:"caption,omitempty"`
}
