package lab

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of a single lab test order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// ParseStatus maps a backend status string onto a Status. Unrecognized values
// report false so callers can fall through to the next candidate.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, true
	case "processing":
		return StatusProcessing, true
	case "completed", "complete":
		return StatusCompleted, true
	}
	return "", false
}

// Source identifies which backend list produced a view row.
type Source string

const (
	SourceActive    Source = "active"
	SourceCompleted Source = "completed"
)

// OrderKey identifies a test order. Registered orders are keyed by test id,
// walk-in orders by the (LoincCode, WalkInID) pair.
type OrderKey struct {
	TestID    string `json:"test_id,omitempty"`
	LoincCode string `json:"loinc_code,omitempty"`
	WalkInID  int    `json:"walk_in_id,omitempty"`
}

func (k OrderKey) String() string {
	if k.WalkInID != 0 && k.LoincCode != "" {
		return fmt.Sprintf("%s/%d", k.LoincCode, k.WalkInID)
	}
	return k.TestID
}

// ParseOrderKey is the inverse of OrderKey.String.
func ParseOrderKey(s string) OrderKey {
	if i := strings.LastIndex(s, "/"); i > 0 {
		if id, err := strconv.Atoi(s[i+1:]); err == nil {
			return OrderKey{LoincCode: s[:i], WalkInID: id}
		}
	}
	return OrderKey{TestID: s}
}

// TestOrder is one row of the merged test view.
type TestOrder struct {
	Key         OrderKey  `json:"key"`
	RenderKey   string    `json:"render_key"`
	TestName    string    `json:"test_name"`
	LoincCode   string    `json:"loinc_code,omitempty"`
	Status      Status    `json:"status"`
	Date        time.Time `json:"date"`
	Variant     Variant   `json:"variant"`
	Source      Source    `json:"source"`
	PatientID   string    `json:"patient_id,omitempty"`
	TimelineID  int       `json:"timeline_id,omitempty"`
	PatientName string    `json:"patient_name,omitempty"`
}

// Attachment is a report file linked to a test.
type Attachment struct {
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	FileURL    string    `json:"file_url"`
	MimeType   string    `json:"mime_type,omitempty"`
	AddedOn    time.Time `json:"added_on"`
	TestID     string    `json:"test_id,omitempty"`
	LoincCode  string    `json:"loinc_code,omitempty"`
	PatientID  string    `json:"patient_id,omitempty"`
	TimelineID int       `json:"timeline_id,omitempty"`
}

// Report pairs a completed test with the attachments reconciled for it.
type Report struct {
	Test        TestOrder    `json:"test"`
	Attachments []Attachment `json:"attachments"`
}

// Caller is the authenticated lab user on whose behalf backend calls are made.
type Caller struct {
	Role       string
	HospitalID int
	UserID     int
	Token      string
}

const unknownTestName = "Unknown"

var epoch = time.Unix(0, 0).UTC()
