package lab

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"sync"
)

type statusCall struct {
	Path   string
	Status Status
}

type uploadCall struct {
	Path   string
	Query  url.Values
	Fields map[string]string
	File   string
}

// fakeBackend is an in-memory hospital backend keyed by request path.
type fakeBackend struct {
	mu sync.Mutex

	patients    map[string][]PatientRecord
	patientErr  map[string]error
	attachments map[string][]AttachmentRecord
	attachErr   map[string]error

	statusErr   error
	statusCalls []statusCall

	uploadErr   map[string]error // by file name
	uploadResp  map[string][]AttachmentRecord
	uploadCalls []uploadCall

	// onStatus runs while a status post is in flight.
	onStatus func()
	// onFetch runs at the start of every list or attachment fetch.
	onFetch func(path string)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		patients:    map[string][]PatientRecord{},
		patientErr:  map[string]error{},
		attachments: map[string][]AttachmentRecord{},
		attachErr:   map[string]error{},
		uploadErr:   map[string]error{},
		uploadResp:  map[string][]AttachmentRecord{},
	}
}

func (f *fakeBackend) FetchPatients(_ context.Context, path string) ([]PatientRecord, error) {
	if f.onFetch != nil {
		f.onFetch(path)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.patientErr[path]; err != nil {
		return nil, err
	}
	return f.patients[path], nil
}

func (f *fakeBackend) FetchAttachments(_ context.Context, path string) ([]AttachmentRecord, error) {
	if f.onFetch != nil {
		f.onFetch(path)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.attachErr[path]; err != nil {
		return nil, err
	}
	return f.attachments[path], nil
}

func (f *fakeBackend) PostStatus(_ context.Context, path string, status Status) error {
	if f.onStatus != nil {
		f.onStatus()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, statusCall{Path: path, Status: status})
	return f.statusErr
}

func (f *fakeBackend) PostAttachment(_ context.Context, path string, query url.Values, form UploadForm) ([]AttachmentRecord, error) {
	rc, err := form.File.Open()
	if err != nil {
		return nil, err
	}
	_, _ = io.ReadAll(rc)
	rc.Close()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls = append(f.uploadCalls, uploadCall{Path: path, Query: query, Fields: form.Fields, File: form.File.Name()})
	if err := f.uploadErr[form.File.Name()]; err != nil {
		return nil, err
	}
	return f.uploadResp[form.File.Name()], nil
}

func (f *fakeBackend) statuses() []statusCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statusCall{}, f.statusCalls...)
}

func (f *fakeBackend) uploads() []uploadCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uploadCall{}, f.uploadCalls...)
}

type fakeProvider struct {
	be *fakeBackend

	mu      sync.Mutex
	callers []Caller
}

func (p *fakeProvider) For(c Caller) Backend {
	p.mu.Lock()
	p.callers = append(p.callers, c)
	p.mu.Unlock()
	return p.be
}

// fakeFile reports sizes in sequence, repeating the last one.
type fakeFile struct {
	name    string
	sizes   []int64
	sizeErr error
	content string

	mu    sync.Mutex
	polls int
}

func newFile(name, content string) *fakeFile {
	return &fakeFile{name: name, sizes: []int64{int64(len(content))}, content: content}
}

func (f *fakeFile) Name() string        { return f.name }
func (f *fakeFile) ContentType() string { return "application/pdf" }

func (f *fakeFile) Size(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	f.polls++
	if f.sizeErr != nil {
		return 0, f.sizeErr
	}
	if i >= len(f.sizes) {
		i = len(f.sizes) - 1
	}
	return f.sizes[i], nil
}

func (f *fakeFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.content)), nil
}

func (f *fakeFile) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

var errBackend = errors.New(`backend: response message "failure"`)

var testCaller = Caller{Role: "lab", HospitalID: 7, UserID: 42, Token: "tok"}
