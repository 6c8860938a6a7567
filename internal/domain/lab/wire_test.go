package lab

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPatientRecord_LooseDecoding(t *testing.T) {
	var rec PatientRecord
	err := json.Unmarshal([]byte(`{
		"id": 101,
		"patientID": " P1 ",
		"timelineID": "012",
		"walkInID": null,
		"testID": {"nested": true},
		"status": 3,
		"addedOn": 1704103200000,
		"latestTestTime": 1704103200,
		"completedTime": "not a date",
		"_completedTime": ""
	}`), &rec)
	if err != nil {
		t.Fatalf("decode must not fail: %v", err)
	}

	if rec.ID != "101" {
		t.Errorf("expected numeric id as text, got %q", rec.ID)
	}
	if rec.PatientID != "P1" {
		t.Errorf("expected trimmed patient id, got %q", rec.PatientID)
	}
	if rec.TimelineID != 12 {
		t.Errorf("expected zero-padded timeline to decode as 12, got %d", rec.TimelineID)
	}
	if rec.WalkInID != 0 {
		t.Errorf("expected null walk-in id to be absent, got %d", rec.WalkInID)
	}
	if rec.TestID != "" {
		t.Errorf("expected object test id to decode as empty, got %q", rec.TestID)
	}

	want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if !rec.AddedOn.Set || !rec.AddedOn.At.Equal(want) {
		t.Errorf("expected millis timestamp %v, got %+v", want, rec.AddedOn)
	}
	if !rec.LatestTestTime.At.Equal(want) {
		t.Errorf("expected seconds timestamp %v, got %+v", want, rec.LatestTestTime)
	}
	if !rec.CompletedTime.Set || !rec.CompletedTime.At.Equal(epoch) {
		t.Errorf("expected malformed timestamp to resolve to epoch, got %+v", rec.CompletedTime)
	}
	if rec.CompletedAlt.Set {
		t.Error("expected blank timestamp to be unset")
	}
}

func TestInt_DecimalStrings(t *testing.T) {
	tests := []struct {
		in   string
		want Int
	}{
		{`"010"`, 10},
		{`"0055"`, 55},
		{`" 089 "`, 89},
		{`42`, 42},
		{`"0x1F"`, 0},
		{`"abc"`, 0},
	}
	for _, tt := range tests {
		var n Int
		if err := json.Unmarshal([]byte(tt.in), &n); err != nil {
			t.Fatalf("decode %s: %v", tt.in, err)
		}
		if n != tt.want {
			t.Errorf("decode %s = %d, want %d", tt.in, n, tt.want)
		}
	}
}

func TestStamp_CompactDates(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{`"20240102"`, day(2)},
		{`"20240102153000"`, time.Date(2024, 1, 2, 15, 30, 0, 0, time.UTC)},
		{`"1704103200"`, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		{`"99999999"`, time.Unix(99999999, 0).UTC()},
	}
	for _, tt := range tests {
		var s Stamp
		if err := json.Unmarshal([]byte(tt.in), &s); err != nil {
			t.Fatalf("decode %s: %v", tt.in, err)
		}
		if !s.Set || !s.At.Equal(tt.want) {
			t.Errorf("decode %s = %v, want %v", tt.in, s.At, tt.want)
		}
	}
}

func TestStamp_Or(t *testing.T) {
	a := Stamp{At: day(1), Set: true}
	b := Stamp{At: day(2), Set: true}
	if got := (Stamp{}).Or(b); got != b {
		t.Errorf("expected fallback, got %+v", got)
	}
	if got := a.Or(b); got != a {
		t.Errorf("expected receiver, got %+v", got)
	}
	if !(Stamp{}).Time().Equal(epoch) {
		t.Error("expected epoch for an unset stamp")
	}
}

func TestStamp_MarshalJSON(t *testing.T) {
	b, _ := json.Marshal(Stamp{})
	if string(b) != "null" {
		t.Errorf("expected null, got %s", b)
	}
	b, _ = json.Marshal(Stamp{At: day(2), Set: true})
	if string(b) != `"2024-01-02T00:00:00Z"` {
		t.Errorf("unexpected encoding %s", b)
	}
}

func TestAttachmentRecord_Fallback(t *testing.T) {
	var rec AttachmentRecord
	if err := json.Unmarshal([]byte(`{"id":5,"fileName":"cbc.pdf","timelineID":"x"}`), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	a := rec.Attachment(day(9))
	if a.ID != "5" || a.FileName != "cbc.pdf" || a.TimelineID != 0 {
		t.Errorf("unexpected attachment %+v", a)
	}
	if !a.AddedOn.Equal(day(9)) {
		t.Errorf("expected fallback time, got %v", a.AddedOn)
	}
}

func TestOrderKey_RoundTrip(t *testing.T) {
	keys := []OrderKey{
		{TestID: "T1"},
		{TestID: "T2", LoincCode: "LP123", WalkInID: 55},
	}
	for _, k := range keys {
		got := ParseOrderKey(k.String())
		if k.WalkInID != 0 {
			if got.LoincCode != k.LoincCode || got.WalkInID != k.WalkInID {
				t.Errorf("walk-in key %v parsed as %+v", k, got)
			}
			continue
		}
		if got != k {
			t.Errorf("key %v parsed as %+v", k, got)
		}
	}
}

func TestParseStatus(t *testing.T) {
	tests := map[string]Status{
		"pending":     StatusPending,
		" Processing": StatusProcessing,
		"completed":   StatusCompleted,
		"complete":    StatusCompleted,
	}
	for in, want := range tests {
		got, ok := ParseStatus(in)
		if !ok || got != want {
			t.Errorf("ParseStatus(%q) = %s, %v", in, got, ok)
		}
	}
	if _, ok := ParseStatus("cancelled"); ok {
		t.Error("expected unrecognized status to report false")
	}
}
