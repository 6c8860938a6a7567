package lab

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Service struct {
	backends BackendProvider
	uploader *Uploader
	journal  JournalRepository
	logger   zerolog.Logger
}

func NewService(bp BackendProvider, up *Uploader, journal JournalRepository, logger zerolog.Logger) *Service {
	if journal == nil {
		journal = NewMemoryJournal()
	}
	return &Service{backends: bp, uploader: up, journal: journal, logger: logger}
}

// -- Views --

// TestView fetches the active and completed lists concurrently and merges
// them. A failed fetch leaves its half empty; the view is still returned.
func (s *Service) TestView(ctx context.Context, caller Caller, ref PatientRef) []TestOrder {
	v := Classify(ref)
	be := s.backends.For(caller)

	var active, completed []PatientRecord
	var g errgroup.Group
	g.Go(func() error {
		active = s.fetchPatients(ctx, be, ActiveListEndpoint(caller, v), SourceActive)
		return nil
	})
	g.Go(func() error {
		completed = s.fetchPatients(ctx, be, CompletedListEndpoint(caller, v), SourceCompleted)
		return nil
	})
	_ = g.Wait()

	return BuildView(active, completed)
}

// Reports returns every completed test with its reconciled attachments.
// uploaded holds attachments the caller just created, which take priority
// over fetched copies.
func (s *Service) Reports(ctx context.Context, caller Caller, ref PatientRef, uploaded []Attachment) []Report {
	v := Classify(ref)
	completed, fromCompleted, direct := s.reportSources(ctx, caller, v)

	view := BuildView(nil, completed)
	reports := make([]Report, 0, len(view))
	for _, t := range view {
		reports = append(reports, Report{
			Test:        t,
			Attachments: ReconcileAttachments([][]Attachment{uploaded, fromCompleted, direct}, TargetOf(t)),
		})
	}
	return reports
}

// reportSources fetches the completed list and the direct attachment list
// concurrently.
func (s *Service) reportSources(ctx context.Context, caller Caller, v Variant) (completed []PatientRecord, fromCompleted, direct []Attachment) {
	be := s.backends.For(caller)

	var g errgroup.Group
	g.Go(func() error {
		completed = s.fetchPatients(ctx, be, CompletedListEndpoint(caller, v), SourceCompleted)
		return nil
	})
	g.Go(func() error {
		path, ok := AttachmentsEndpoint(caller, v)
		if !ok {
			return nil
		}
		recs, err := be.FetchAttachments(ctx, path)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("attachment fetch failed")
			return nil
		}
		direct = attachmentsOf(recs)
		return nil
	})
	_ = g.Wait()

	for _, rec := range completed {
		fromCompleted = append(fromCompleted, attachmentsOf(rec.Attachments)...)
	}
	return completed, fromCompleted, direct
}

func (s *Service) fetchPatients(ctx context.Context, be Backend, path string, src Source) []PatientRecord {
	recs, err := be.FetchPatients(ctx, path)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Str("source", string(src)).Msg("test list fetch failed")
		return nil
	}
	return recs
}

// -- Transitions --

// Order builds the lifecycle for a test the caller is looking at. Every
// settled transition is written to the journal.
func (s *Service) Order(caller Caller, ref PatientRef, test TestRef) *Order {
	v := Classify(ref)
	key := OrderKey{TestID: test.TestID}
	if v.IsWalkIn() {
		key.LoincCode = test.LoincCode
		if key.LoincCode == "" {
			key.LoincCode = v.LoincCode
		}
		key.WalkInID = v.WalkInID
	}
	status, _ := ParseStatus(string(test.Status))
	o := NewOrder(caller, v, key, status)
	changedBy := strconv.Itoa(caller.UserID)
	o.OnSettled(func(t Transition) {
		if err := s.journal.Create(context.Background(), journalEntryOf(t, changedBy)); err != nil {
			s.logger.Error().Err(err).Str("order", t.Key.String()).Msg("failed to journal transition")
		}
	})
	return o
}

// StartProcessing moves the test from pending to processing. On failure the
// returned order has been rolled back to pending.
func (s *Service) StartProcessing(ctx context.Context, caller Caller, ref PatientRef, test TestRef) (*Order, error) {
	o := s.Order(caller, ref, test)
	err := o.StartProcessing(ctx, s.backends.For(caller))
	if err != nil {
		s.logger.Warn().Err(err).Str("order", o.Key().String()).Msg("start processing failed")
	}
	return o, err
}

// Upload submits report files for a processing test and returns the test's
// reconciled attachment list alongside the upload result.
func (s *Service) Upload(ctx context.Context, caller Caller, ref PatientRef, test TestRef, files []FileSource) (*UploadResult, error) {
	o := s.Order(caller, ref, test)
	if err := o.RequestUpload(); err != nil {
		return nil, err
	}

	res, err := s.uploader.Submit(ctx, s.backends.For(caller), caller, o, files, test)
	if err != nil {
		return res, err
	}

	_, fromCompleted, direct := s.reportSources(ctx, caller, o.Variant())
	target := MatchTarget{TestID: o.Key().TestID, LoincCode: o.Key().LoincCode}
	if target.LoincCode == "" {
		target.LoincCode = test.LoincCode
	}
	res.Reconciled = ReconcileAttachments([][]Attachment{res.Attachments, fromCompleted, direct}, target)
	return res, nil
}

// History lists journal entries for an order key.
func (s *Service) History(ctx context.Context, key string, limit, offset int) ([]*JournalEntry, int, error) {
	return s.journal.ListByOrder(ctx, key, limit, offset)
}
