package lab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const (
	activePath    = "test/lab/7/42/9/getPatientDetails"
	completedPath = "test/lab/7/42/9/getReportsCompletedPatientDetails"
	directPath    = "attachment/7/all/P1"
)

var registeredRef = PatientRef{PatientID: "P1", TimelineID: 9}

func newTestService() (*Service, *fakeBackend, *MemoryJournal) {
	be := newFakeBackend()
	up, _ := newTestUploader()
	journal := NewMemoryJournal()
	return NewService(&fakeProvider{be: be}, up, journal, zerolog.Nop()), be, journal
}

func TestService_TestView(t *testing.T) {
	svc, be, _ := newTestService()
	be.patients[activePath] = []PatientRecord{{PatientID: "P1", TestID: "T1", Status: "pending"}}
	be.patients[completedPath] = []PatientRecord{{PatientID: "P1", TestID: "T0", Status: "pending"}}

	view := svc.TestView(context.Background(), testCaller, registeredRef)

	if len(view) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(view))
	}
	if view[0].Key.TestID != "T1" || view[0].Status != StatusPending {
		t.Errorf("unexpected active row %+v", view[0])
	}
	if view[1].Key.TestID != "T0" || view[1].Status != StatusCompleted {
		t.Errorf("unexpected completed row %+v", view[1])
	}
}

// fetchBarrier holds every fetch until n distinct paths have started. A fetch
// left waiting past the timeout fails the test.
func fetchBarrier(t *testing.T, n int) func(string) {
	var mu sync.Mutex
	started := map[string]bool{}
	all := make(chan struct{})
	return func(path string) {
		mu.Lock()
		started[path] = true
		if len(started) == n {
			close(all)
		}
		mu.Unlock()

		select {
		case <-all:
		case <-time.After(time.Second):
			t.Errorf("fetch of %s waited alone; the other fetches never started", path)
		}
	}
}

func TestService_TestView_FetchesConcurrently(t *testing.T) {
	svc, be, _ := newTestService()
	be.patients[activePath] = []PatientRecord{{PatientID: "P1", TestID: "T1"}}
	be.patients[completedPath] = []PatientRecord{{PatientID: "P1", TestID: "T0"}}
	be.onFetch = fetchBarrier(t, 2)

	view := svc.TestView(context.Background(), testCaller, registeredRef)

	if len(view) != 2 {
		t.Fatalf("expected both lists joined before the view is built, got %d rows", len(view))
	}
}

func TestService_TestView_PartialFetch(t *testing.T) {
	svc, be, _ := newTestService()
	be.patientErr[activePath] = errBackend
	be.patients[completedPath] = []PatientRecord{{PatientID: "P1", TestID: "T0"}}

	view := svc.TestView(context.Background(), testCaller, registeredRef)
	if len(view) != 1 || view[0].Source != SourceCompleted {
		t.Errorf("expected the completed half, got %+v", view)
	}

	svc, be, _ = newTestService()
	be.patients[activePath] = []PatientRecord{{PatientID: "P1", TestID: "T1"}}
	be.patientErr[completedPath] = errBackend

	view = svc.TestView(context.Background(), testCaller, registeredRef)
	if len(view) != 1 || view[0].Source != SourceActive {
		t.Errorf("expected the active half, got %+v", view)
	}

	svc, be, _ = newTestService()
	be.patientErr[activePath] = errBackend
	be.patientErr[completedPath] = errBackend
	if view = svc.TestView(context.Background(), testCaller, registeredRef); len(view) != 0 {
		t.Errorf("expected an empty view, got %+v", view)
	}
}

func TestService_Reports(t *testing.T) {
	svc, be, _ := newTestService()
	be.patients[completedPath] = []PatientRecord{{
		PatientID: "P1",
		TestsList: []TestRecord{{ID: "T1", LoincCode: "718-7"}, {ID: "T2"}},
		Attachments: []AttachmentRecord{
			{ID: "a1", TestID: "T1", AddedOn: Stamp{At: day(1), Set: true}, FileName: "from-completed"},
		},
	}}
	be.attachments[directPath] = []AttachmentRecord{
		{ID: "a1", TestID: "T1", FileName: "from-direct"},
		{ID: "a2", LoincCode: "718-7", AddedOn: Stamp{At: day(3), Set: true}},
		{ID: "a3", TestID: "T9"},
	}
	uploaded := []Attachment{{ID: "a4", TestID: "T2", AddedOn: day(4)}}

	reports := svc.Reports(context.Background(), testCaller, registeredRef, uploaded)

	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	r1 := reports[0]
	if r1.Test.Key.TestID != "T1" || r1.Test.Status != StatusCompleted {
		t.Errorf("unexpected first report test %+v", r1.Test)
	}
	if got := ids(r1.Attachments); len(got) != 2 || got[0] != "a2" || got[1] != "a1" {
		t.Errorf("expected [a2 a1], got %v", got)
	}
	if r1.Attachments[1].FileName != "from-completed" {
		t.Errorf("completed copy should win over direct, got %s", r1.Attachments[1].FileName)
	}
	if got := ids(reports[1].Attachments); len(got) != 1 || got[0] != "a4" {
		t.Errorf("expected [a4] for T2, got %v", got)
	}
}

func TestService_Reports_FetchesConcurrently(t *testing.T) {
	svc, be, _ := newTestService()
	be.patients[completedPath] = []PatientRecord{{PatientID: "P1", TestID: "T1"}}
	be.attachments[directPath] = []AttachmentRecord{{ID: "a1", TestID: "T1"}}
	be.onFetch = fetchBarrier(t, 2)

	reports := svc.Reports(context.Background(), testCaller, registeredRef, nil)

	if len(reports) != 1 || len(reports[0].Attachments) != 1 {
		t.Fatalf("expected the direct attachment joined into the report, got %+v", reports)
	}
}

func TestService_Reports_DirectFetchFails(t *testing.T) {
	svc, be, _ := newTestService()
	be.patients[completedPath] = []PatientRecord{{PatientID: "P1", TestID: "T1"}}
	be.attachErr[directPath] = errBackend

	reports := svc.Reports(context.Background(), testCaller, registeredRef, nil)
	if len(reports) != 1 || len(reports[0].Attachments) != 0 {
		t.Errorf("expected one report without attachments, got %+v", reports)
	}
}

func TestService_StartProcessing_Journals(t *testing.T) {
	svc, be, _ := newTestService()

	o, err := svc.StartProcessing(context.Background(), testCaller, registeredRef, TestRef{TestID: "T1", Status: "pending"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Status() != StatusProcessing {
		t.Errorf("expected processing, got %s", o.Status())
	}

	be.statusErr = errBackend
	_, err = svc.StartProcessing(context.Background(), testCaller, registeredRef, TestRef{TestID: "T1"})
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}

	entries, total, err := svc.History(context.Background(), "T1", 10, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if total != 2 || len(entries) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", total)
	}
	outcomes := map[string]bool{}
	for _, e := range entries {
		outcomes[e.Outcome] = true
		if e.ChangedBy != "42" || e.Variant != "registered" {
			t.Errorf("unexpected entry %+v", e)
		}
	}
	if !outcomes[OutcomeCommitted] || !outcomes[OutcomeRolledBack] {
		t.Errorf("expected committed and rolled back entries, got %v", outcomes)
	}
}

func TestService_StartProcessing_StatusAliases(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.StartProcessing(context.Background(), testCaller, registeredRef, TestRef{TestID: "T1", Status: "complete"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected a completed test to refuse processing, got %v", err)
	}
}

func TestService_Upload(t *testing.T) {
	svc, be, _ := newTestService()
	be.uploadResp["cbc.pdf"] = []AttachmentRecord{{ID: "new", TestID: "T1", AddedOn: Stamp{At: day(5), Set: true}}}
	be.attachments[directPath] = []AttachmentRecord{
		{ID: "old", TestID: "T1", AddedOn: Stamp{At: day(1), Set: true}},
		{ID: "new", TestID: "T1", AddedOn: Stamp{At: day(2), Set: true}},
	}

	res, err := svc.Upload(context.Background(), testCaller, registeredRef,
		TestRef{TestID: "T1", Status: StatusProcessing}, []FileSource{newFile("cbc.pdf", "pdf")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextStatus != StatusCompleted {
		t.Errorf("expected completed, got %s", res.NextStatus)
	}
	got := ids(res.Reconciled)
	if len(got) != 2 || got[0] != "new" || got[1] != "old" {
		t.Errorf("expected [new old], got %v", got)
	}
	if !res.Reconciled[0].AddedOn.Equal(day(5)) {
		t.Errorf("uploaded copy should win, got %v", res.Reconciled[0].AddedOn)
	}
}

func TestService_Upload_RequiresProcessing(t *testing.T) {
	svc, be, _ := newTestService()
	_, err := svc.Upload(context.Background(), testCaller, registeredRef,
		TestRef{TestID: "T1", Status: StatusPending}, []FileSource{newFile("cbc.pdf", "pdf")})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if len(be.uploads()) != 0 {
		t.Error("expected no uploads")
	}
}

func TestService_ForwardsCaller(t *testing.T) {
	be := newFakeBackend()
	p := &fakeProvider{be: be}
	up, _ := newTestUploader()
	svc := NewService(p, up, nil, zerolog.Nop())

	svc.TestView(context.Background(), testCaller, registeredRef)

	if len(p.callers) == 0 || p.callers[0] != testCaller {
		t.Errorf("expected backend bound to the caller, got %+v", p.callers)
	}
}

func TestMemoryJournal_Paging(t *testing.T) {
	j := NewMemoryJournal()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = j.Create(ctx, &JournalEntry{OrderKey: "T1", ToStatus: "processing", ChangedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	_ = j.Create(ctx, &JournalEntry{OrderKey: "T2"})

	items, total, err := j.ListByOrder(ctx, "T1", 2, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 5 || len(items) != 2 {
		t.Fatalf("expected 2 of 5, got %d of %d", len(items), total)
	}
	if !items[0].ChangedAt.Equal(base.Add(3*time.Minute)) || !items[1].ChangedAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("expected newest first, got %v %v", items[0].ChangedAt, items[1].ChangedAt)
	}
	if items[0].ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("expected an id to be assigned")
	}

	items, _, _ = j.ListByOrder(ctx, "T1", 10, 10)
	if len(items) != 0 {
		t.Errorf("expected an empty page, got %d", len(items))
	}
}

func TestJournalEntryOf(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	key := OrderKey{LoincCode: "LP123", WalkInID: 55}
	v := Variant{Kind: VariantWalkIn, WalkInID: 55}

	e := journalEntryOf(Transition{Key: key, Variant: v, From: StatusPending, To: StatusProcessing, At: at}, "42")
	if e.OrderKey != "LP123/55" || e.Variant != "walkin" || e.Outcome != OutcomeCommitted || e.Error != nil {
		t.Errorf("unexpected committed entry %+v", e)
	}
	if !e.ChangedAt.Equal(at) || e.ChangedBy != "42" {
		t.Errorf("unexpected audit fields %+v", e)
	}

	e = journalEntryOf(Transition{Key: key, Variant: v, From: StatusPending, To: StatusProcessing, Err: errBackend, At: at}, "42")
	if e.Outcome != OutcomeRolledBack || e.Error == nil || *e.Error != errBackend.Error() {
		t.Errorf("unexpected rolled back entry %+v", e)
	}
}
