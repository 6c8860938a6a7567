package lab

import (
	"fmt"
	"time"
)

// TestSource is how a patient record carries its tests: either an explicit
// test list, or the record itself standing in for a single test.
type TestSource interface {
	isTestSource()
}

// ExplicitList is a record with a non-empty testsList.
type ExplicitList struct {
	Tests []TestRecord
}

// ImplicitSingleton is a record that is itself the only test.
type ImplicitSingleton struct {
	Record PatientRecord
}

func (ExplicitList) isTestSource()      {}
func (ImplicitSingleton) isTestSource() {}

// SourceOf classifies how rec carries its tests.
func SourceOf(rec PatientRecord) TestSource {
	if len(rec.TestsList) > 0 {
		return ExplicitList{Tests: rec.TestsList}
	}
	return ImplicitSingleton{Record: rec}
}

// BuildView merges the active and completed lists into one view. Active rows
// come first in discovery order, completed rows are appended after them.
// Rows from the completed list are always Completed. No cross-list
// de-duplication is done: a test in both lists yields two rows.
func BuildView(active, completed []PatientRecord) []TestOrder {
	view := make([]TestOrder, 0, len(active)+len(completed))
	for _, rec := range active {
		view = appendRows(view, rec, SourceActive)
	}
	for _, rec := range completed {
		view = appendRows(view, rec, SourceCompleted)
	}
	for i := range view {
		view[i].RenderKey = fmt.Sprintf("%s:%s:%d", view[i].Key, view[i].Source, i)
	}
	return view
}

func appendRows(view []TestOrder, rec PatientRecord, src Source) []TestOrder {
	variant := Classify(rec.Ref())
	date := rowDate(rec, src)

	switch s := SourceOf(rec).(type) {
	case ExplicitList:
		for _, t := range s.Tests {
			view = append(view, TestOrder{
				Key:         rowKey(variant, firstText(t.ID, t.TestID), firstText(t.LoincCode, rec.LoincCode)),
				TestName:    testName(t.TestName, t.Test),
				LoincCode:   firstText(t.LoincCode, rec.LoincCode),
				Status:      rowStatus(src, rec.Status, t.Status),
				Date:        date,
				Variant:     variant,
				Source:      src,
				PatientID:   rec.PatientID.String(),
				TimelineID:  int(rec.TimelineID),
				PatientName: rec.PName.String(),
			})
		}
	case ImplicitSingleton:
		r := s.Record
		view = append(view, TestOrder{
			Key:         rowKey(variant, firstText(r.TestID, r.ID), r.LoincCode.String()),
			TestName:    testName(r.TestName, r.Test),
			LoincCode:   r.LoincCode.String(),
			Status:      rowStatus(src, r.Status),
			Date:        date,
			Variant:     variant,
			Source:      src,
			PatientID:   r.PatientID.String(),
			TimelineID:  int(r.TimelineID),
			PatientName: r.PName.String(),
		})
	}
	return view
}

func rowKey(v Variant, testID, loinc string) OrderKey {
	k := OrderKey{TestID: testID}
	if v.IsWalkIn() {
		k.LoincCode = loinc
		k.WalkInID = v.WalkInID
	}
	return k
}

// rowStatus applies the completed-list override, then the first recognizable
// candidate, then Pending.
func rowStatus(src Source, candidates ...Text) Status {
	if src == SourceCompleted {
		return StatusCompleted
	}
	for _, c := range candidates {
		if st, ok := ParseStatus(c.String()); ok {
			return st
		}
	}
	return StatusPending
}

func rowDate(rec PatientRecord, src Source) time.Time {
	if src == SourceCompleted {
		return rec.CompletedTime.Or(rec.CompletedAlt).Or(rec.AddedOn).Time()
	}
	return rec.AddedOn.Or(rec.LatestTestTime).Time()
}

func testName(candidates ...Text) string {
	if n := firstText(candidates...); n != "" {
		return n
	}
	return unknownTestName
}
