package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// SectionType groups the sections shown for one record kind. Name matches
// RecordKind.SectionTypeName().
type SectionType struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Section is one titled group of fields inside a project's form
// definition for a record kind.
type Section struct {
	ID            uuid.UUID `json:"id"`
	ProjectID     uuid.UUID `json:"project_id"`
	SectionTypeID uuid.UUID `json:"section_type_id"`
	Name          string    `json:"name"`
	SortOrder     int       `json:"sort_order"`
}

// InputType tags how a field's value is captured and validated.
type InputType string

const (
	InputText                  InputType = "text"
	InputDescription           InputType = "description"
	InputNumber                InputType = "number"
	InputDateTime              InputType = "datetime"
	InputRadio                 InputType = "radio"
	InputMultiple              InputType = "multiselect"
	InputFile                  InputType = "file"
	InputImageFile             InputType = "imagefile"
	InputHeader                InputType = "header"
	InputContent               InputType = "content"
	InputFormattedText         InputType = "formattedtext"
	InputSortableList          InputType = "sortablelist"
	InputReactionScheme        InputType = "reactionscheme"
	InputYieldTable            InputType = "yieldtable"
	InputGreenMetricsTable     InputType = "greenmetricstable"
	InputHazardTable           InputType = "hazardtable"
	InputChemicalDisposalTable InputType = "chemicaldisposaltable"
)

// ValidInputTypes lists every input type the form engine understands.
var ValidInputTypes = []InputType{
	InputText, InputDescription, InputNumber, InputDateTime,
	InputRadio, InputMultiple, InputFile, InputImageFile,
	InputHeader, InputContent, InputFormattedText, InputSortableList,
	InputReactionScheme, InputYieldTable, InputGreenMetricsTable,
	InputHazardTable, InputChemicalDisposalTable,
}

// IsValid checks whether the input type is known.
func (t InputType) IsValid() bool {
	for _, v := range ValidInputTypes {
		if t == v {
			return true
		}
	}
	return false
}

// IsStatic reports display-only types that never carry a response.
func (t InputType) IsStatic() bool {
	return t == InputHeader || t == InputContent
}

// IsFile reports types whose value is file metadata.
func (t InputType) IsFile() bool {
	return t == InputFile || t == InputImageFile
}

// IsSelect reports types whose value is constrained to an option list.
func (t InputType) IsSelect() bool {
	return t == InputRadio || t == InputMultiple
}

// SelectFieldOption is one selectable choice of a radio or multiselect
// field.
type SelectFieldOption struct {
	ID      uuid.UUID `json:"id"`
	FieldID uuid.UUID `json:"field_id"`
	Name    string    `json:"name"`
}

// Field is one question in a section. A field may carry a trigger edge:
// when its current value activates TriggerCause, the field identified by
// TriggerTargetID becomes visible. Trigger chains must be acyclic; the
// schema layer rejects cycles at authoring time.
type Field struct {
	ID              uuid.UUID           `json:"id"`
	SectionID       uuid.UUID           `json:"section_id"`
	Name            string              `json:"name"`
	InputType       InputType           `json:"input_type"`
	SortOrder       int                 `json:"sort_order"`
	Mandatory       bool                `json:"mandatory"`
	Hidden          bool                `json:"hidden"`
	DefaultResponse json.RawMessage     `json:"default_response,omitempty"`
	TriggerCause    *string             `json:"trigger_cause,omitempty"`
	TriggerTargetID *uuid.UUID          `json:"trigger_target_id,omitempty"`
	Options         []SelectFieldOption `json:"options,omitempty"`
}

// HasTrigger reports whether the field carries a trigger edge.
func (f *Field) HasTrigger() bool {
	return f.TriggerCause != nil && f.TriggerTargetID != nil
}

// IsTriggered reports whether value activates the field's trigger edge.
// Multiselect values are JSON arrays of selected option names and match
// when the cause is among them; single-valued types match on equality.
func (f *Field) IsTriggered(value json.RawMessage) bool {
	if !f.HasTrigger() || len(value) == 0 {
		return false
	}
	if f.InputType == InputMultiple {
		var selected []string
		if err := json.Unmarshal(value, &selected); err != nil {
			return false
		}
		for _, name := range selected {
			if name == *f.TriggerCause {
				return true
			}
		}
		return false
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return false
	}
	return s == *f.TriggerCause
}

// OptionNamed returns the option with the given name, if any.
func (f *Field) OptionNamed(name string) (*SelectFieldOption, bool) {
	for i := range f.Options {
		if f.Options[i].Name == name {
			return &f.Options[i], true
		}
	}
	return nil, false
}
