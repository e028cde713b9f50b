package models

import (
	"encoding/json"
	"fmt"
)

// Status is the canonical lifecycle stage of a report. The underlying
// string is the internal vocabulary persisted in mongo; JSON always speaks
// the presentation vocabulary, so a Status never crosses the API boundary
// in its internal spelling.
type Status string

// Internal vocabulary, stored in the reports collection.
const (
	StatusIssued   Status = "issued"
	StatusInReview Status = "in-review"
	StatusClosed   Status = "closed"
)

// Presentation vocabulary, used on the wire and in the UI.
const (
	StatusPendingLabel    = "Pending"
	StatusInProgressLabel = "In Progress"
	StatusResolvedLabel   = "Resolved"
)

// ErrUnknownStatus is returned when a status value falls outside either
// three-element vocabulary. Callers must treat it as a data-integrity
// fault, never coerce to a default.
type ErrUnknownStatus struct {
	Value string
}

func (e ErrUnknownStatus) Error() string {
	return fmt.Sprintf("unknown report status %q", e.Value)
}

// ToPresentation translates an internal status to its presentation label.
func ToPresentation(s Status) (string, error) {
	switch s {
	case StatusIssued:
		return StatusPendingLabel, nil
	case StatusInReview:
		return StatusInProgressLabel, nil
	case StatusClosed:
		return StatusResolvedLabel, nil
	}
	return "", ErrUnknownStatus{Value: string(s)}
}

// ToInternal translates a presentation label to its internal status.
func ToInternal(label string) (Status, error) {
	switch label {
	case StatusPendingLabel:
		return StatusIssued, nil
	case StatusInProgressLabel:
		return StatusInReview, nil
	case StatusResolvedLabel:
		return StatusClosed, nil
	}
	return "", ErrUnknownStatus{Value: label}
}

// Valid reports whether s is one of the three internal values.
func (s Status) Valid() bool {
	_, err := ToPresentation(s)
	return err == nil
}

// CounterField returns the bson field name of the user counter that tracks
// reports in this status, relative to the counters sub-document.
func (s Status) CounterField() string {
	switch s {
	case StatusIssued:
		return "issued"
	case StatusInReview:
		return "inReview"
	case StatusClosed:
		return "closed"
	}
	return ""
}

// MarshalJSON emits the presentation label.
func (s Status) MarshalJSON() ([]byte, error) {
	label, err := ToPresentation(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(label)
}

// UnmarshalJSON accepts only presentation labels.
func (s *Status) UnmarshalJSON(b []byte) error {
	var label string
	if err := json.Unmarshal(b, &label); err != nil {
		return err
	}
	internal, err := ToInternal(label)
	if err != nil {
		return err
	}
	*s = internal
	return nil
}
