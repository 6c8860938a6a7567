package lab

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hospital/labflow/internal/platform/backend"
)

// Backend is the hospital backend as seen by one caller.
type Backend interface {
	UploadBackend
	FetchPatients(ctx context.Context, path string) ([]PatientRecord, error)
	FetchAttachments(ctx context.Context, path string) ([]AttachmentRecord, error)
}

// BackendProvider hands out a Backend bound to a caller's credentials.
type BackendProvider interface {
	For(c Caller) Backend
}

// Gateway adapts backend.Client to BackendProvider.
type Gateway struct {
	client *backend.Client
}

func NewGateway(client *backend.Client) *Gateway {
	return &Gateway{client: client}
}

func (g *Gateway) For(c Caller) Backend {
	return &callerBackend{client: g.client, token: c.Token}
}

type callerBackend struct {
	client *backend.Client
	token  string
}

// The list endpoints are not consistent about the key holding the records.
type patientListEnvelope struct {
	PatientList []PatientRecord `json:"patientList"`
	Patients    []PatientRecord `json:"patients"`
	Data        []PatientRecord `json:"data"`
}

type attachmentEnvelope struct {
	Attachments []AttachmentRecord `json:"attachments"`
	Attachment  *AttachmentRecord  `json:"attachment"`
	Data        []AttachmentRecord `json:"data"`
}

func (e attachmentEnvelope) records() []AttachmentRecord {
	switch {
	case e.Attachments != nil:
		return e.Attachments
	case e.Data != nil:
		return e.Data
	case e.Attachment != nil:
		return []AttachmentRecord{*e.Attachment}
	}
	return nil
}

func (b *callerBackend) FetchPatients(ctx context.Context, path string) ([]PatientRecord, error) {
	var env patientListEnvelope
	if err := b.client.Get(ctx, b.token, path, &env); err != nil {
		return nil, err
	}
	switch {
	case env.PatientList != nil:
		return env.PatientList, nil
	case env.Patients != nil:
		return env.Patients, nil
	}
	return env.Data, nil
}

func (b *callerBackend) FetchAttachments(ctx context.Context, path string) ([]AttachmentRecord, error) {
	var env attachmentEnvelope
	if err := b.client.Get(ctx, b.token, path, &env); err != nil {
		return nil, err
	}
	return env.records(), nil
}

func (b *callerBackend) PostStatus(ctx context.Context, path string, status Status) error {
	return b.client.PostJSON(ctx, b.token, path, map[string]string{"status": string(status)}, nil)
}

func (b *callerBackend) PostAttachment(ctx context.Context, path string, query url.Values, form UploadForm) ([]AttachmentRecord, error) {
	rc, err := form.File.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", form.File.Name(), err)
	}
	defer rc.Close()

	mp := backend.Multipart{
		Fields: form.Fields,
		Files: []backend.FilePart{{
			Field:       "files",
			FileName:    form.File.Name(),
			ContentType: form.File.ContentType(),
			Content:     rc,
		}},
	}
	var env attachmentEnvelope
	if err := b.client.PostMultipart(ctx, b.token, path, query, mp, &env); err != nil {
		return nil, err
	}
	return env.records(), nil
}
