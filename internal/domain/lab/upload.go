package lab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultReadinessAttempts = 5
	DefaultReadinessInterval = 200 * time.Millisecond
	DefaultUploadCategory    = "lab"
)

var (
	ErrFileNotReady = errors.New("lab: file never reported a positive size")
	ErrNoFiles      = errors.New("lab: at least one file is required")
	ErrUploadFailed = errors.New("lab: no file could be uploaded")
)

// NotReadyError names the file that failed the readiness check.
type NotReadyError struct {
	File     string
	Attempts int
	LastErr  error
}

func (e *NotReadyError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("file %q not ready after %d polls: %v", e.File, e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("file %q not ready after %d polls", e.File, e.Attempts)
}

func (e *NotReadyError) Unwrap() error { return ErrFileNotReady }

// FileSource is a file picked for upload. Size may report zero while the file
// is still being written.
type FileSource interface {
	Name() string
	ContentType() string
	Size(ctx context.Context) (int64, error)
	Open() (io.ReadCloser, error)
}

// TestRef identifies the test an upload belongs to. PatientID is provenance
// from the view row, used when the patient reference has none.
type TestRef struct {
	TestID    string `json:"testID" form:"testID"`
	LoincCode string `json:"loincCode" form:"loincCode" validate:"omitempty,loinc"`
	PatientID string `json:"patientID,omitempty" form:"testPatientID"`
	Status    Status `json:"status" form:"status" validate:"omitempty,oneof=pending processing completed complete"`
}

// UploadForm is the multipart payload for a single file.
type UploadForm struct {
	Fields map[string]string
	File   FileSource
}

// AttachmentPoster posts one upload form and returns the attachments the
// backend created.
type AttachmentPoster interface {
	PostAttachment(ctx context.Context, path string, query url.Values, form UploadForm) ([]AttachmentRecord, error)
}

// UploadBackend is what Submit needs from the backend.
type UploadBackend interface {
	StatusPoster
	AttachmentPoster
}

// FileFailure records one file that could not be uploaded.
type FileFailure struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// UploadResult is the outcome of a submission.
type UploadResult struct {
	Attachments []Attachment  `json:"attachments"`
	Failed      []FileFailure `json:"failed,omitempty"`
	NextStatus  Status        `json:"next_status"`
	// Reconciled is the test's full attachment list after the upload, filled
	// in by Service.Upload.
	Reconciled []Attachment `json:"reconciled,omitempty"`
}

// UploadOptions tunes the readiness check and payload.
type UploadOptions struct {
	ReadinessAttempts int
	ReadinessInterval time.Duration
	Category          string
}

// Uploader coordinates multi-file report uploads for one test order.
type Uploader struct {
	attempts int
	interval time.Duration
	category string
	logger   zerolog.Logger

	sleep func(time.Duration)
	now   func() time.Time
}

func NewUploader(logger zerolog.Logger, opts UploadOptions) *Uploader {
	if opts.ReadinessAttempts <= 0 {
		opts.ReadinessAttempts = DefaultReadinessAttempts
	}
	if opts.ReadinessInterval <= 0 {
		opts.ReadinessInterval = DefaultReadinessInterval
	}
	if opts.Category == "" {
		opts.Category = DefaultUploadCategory
	}
	return &Uploader{
		attempts: opts.ReadinessAttempts,
		interval: opts.ReadinessInterval,
		category: opts.Category,
		logger:   logger,
		sleep:    time.Sleep,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit uploads files for the order's test. Every file must pass the
// readiness check before anything is sent. Files are then posted one at a
// time; a failed file is recorded and the rest continue. When every file
// succeeded the order is completed on a best-effort basis: a failure there is
// logged and does not fail the submission.
func (u *Uploader) Submit(ctx context.Context, be UploadBackend, caller Caller, order *Order, files []FileSource, test TestRef) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	for _, f := range files {
		if err := u.awaitReady(ctx, f); err != nil {
			return nil, err
		}
	}

	path, query, err := UploadEndpoint(caller, order.Variant(), test)
	if err != nil {
		return nil, err
	}

	res := &UploadResult{Attachments: make([]Attachment, 0, len(files))}
	for _, f := range files {
		form := UploadForm{Fields: u.fields(caller), File: f}
		recs, err := be.PostAttachment(ctx, path, query, form)
		if err != nil {
			u.logger.Warn().Err(err).Str("file", f.Name()).Str("path", path).Msg("attachment upload failed")
			res.Failed = append(res.Failed, FileFailure{File: f.Name(), Error: err.Error()})
			continue
		}
		for _, r := range recs {
			res.Attachments = append(res.Attachments, u.normalize(r, order.Variant(), test))
		}
	}

	if len(res.Failed) == len(files) {
		res.NextStatus = order.Status()
		return res, ErrUploadFailed
	}

	if len(res.Failed) == 0 {
		if err := order.Complete(ctx, be); err != nil {
			u.logger.Warn().Err(err).Str("order", order.Key().String()).Msg("auto-completion after upload failed")
		}
	}
	res.NextStatus = order.Status()
	return res, nil
}

// awaitReady polls the file size until it is positive. The wait is bounded by
// attempts*interval and is not interrupted by ctx.
func (u *Uploader) awaitReady(ctx context.Context, f FileSource) error {
	var lastErr error
	for i := 0; i < u.attempts; i++ {
		if i > 0 {
			u.sleep(u.interval)
		}
		size, err := f.Size(ctx)
		if err == nil && size > 0 {
			return nil
		}
		lastErr = err
	}
	return &NotReadyError{File: f.Name(), Attempts: u.attempts, LastErr: lastErr}
}

func (u *Uploader) fields(c Caller) map[string]string {
	return map[string]string{
		"category":   u.category,
		"hospitalID": strconv.Itoa(c.HospitalID),
		"userID":     strconv.Itoa(c.UserID),
		"timestamp":  u.now().Format(time.RFC3339),
	}
}

// normalize maps a returned attachment into the canonical shape. Missing match
// keys are filled from the test so the upload reconciles against it.
func (u *Uploader) normalize(r AttachmentRecord, v Variant, test TestRef) Attachment {
	a := r.Attachment(u.now())
	if a.TestID == "" && a.LoincCode == "" {
		a.TestID = test.TestID
		a.LoincCode = test.LoincCode
		if a.LoincCode == "" && v.IsWalkIn() {
			a.LoincCode = v.LoincCode
		}
	}
	return a
}
