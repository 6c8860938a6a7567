package lab

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hospital/labflow/internal/platform/auth"
	"github.com/hospital/labflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the lab endpoints on g. When roles are given, every
// route requires one of them.
func (h *Handler) RegisterRoutes(g *echo.Group, roles ...string) {
	if len(roles) > 0 {
		g = g.Group("", auth.RequireRole(roles...))
	}
	g.GET("/patients/tests", h.ListTests)
	g.GET("/patients/reports", h.ListReports)
	g.POST("/tests/start", h.StartProcessing)
	g.POST("/tests/upload", h.Upload)
	g.GET("/tests/history", h.History)
}

type transitionRequest struct {
	Ref  PatientRef `json:"ref"`
	Test TestRef    `json:"test"`
}

// uploadRequest binds the multipart text fields. The nested structs carry
// their own form tags.
type uploadRequest struct {
	Patient PatientRef
	Test    TestRef
}

type orderResponse struct {
	Key       OrderKey `json:"key"`
	Variant   Variant  `json:"variant"`
	Status    Status   `json:"status"`
	Committed Status   `json:"committed"`
}

func orderResponseOf(o *Order) orderResponse {
	return orderResponse{Key: o.Key(), Variant: o.Variant(), Status: o.Status(), Committed: o.Committed()}
}

func callerFrom(c echo.Context) (Caller, error) {
	id, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return Caller{}, echo.NewHTTPError(http.StatusUnauthorized, "missing caller identity")
	}
	return Caller{Role: id.Role, HospitalID: id.HospitalID, UserID: id.UserID, Token: id.Token}, nil
}

func (h *Handler) bindRef(c echo.Context) (PatientRef, error) {
	var ref PatientRef
	if err := c.Bind(&ref); err != nil {
		return ref, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&ref); err != nil {
		return ref, err
	}
	return ref, nil
}

func (h *Handler) ListTests(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	ref, err := h.bindRef(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)

	view := h.svc.TestView(c.Request().Context(), caller, ref)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Window(view, pg), len(view), pg))
}

func (h *Handler) ListReports(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	ref, err := h.bindRef(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.svc.Reports(c.Request().Context(), caller, ref, nil))
}

func (h *Handler) StartProcessing(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	o, err := h.svc.StartProcessing(c.Request().Context(), caller, req.Ref, req.Test)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, orderResponseOf(o))
}

// Upload answers 200 when every file was stored, 207 when some failed and
// 502 when none could be stored.
func (h *Handler) Upload(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	var req uploadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "expected a multipart form")
	}
	headers := form.File["files"]
	files := make([]FileSource, 0, len(headers))
	for _, fh := range headers {
		files = append(files, formFile{fh})
	}

	res, err := h.svc.Upload(c.Request().Context(), caller, req.Patient, req.Test, files)
	switch {
	case errors.Is(err, ErrUploadFailed) && res != nil:
		return c.JSON(http.StatusBadGateway, map[string]interface{}{
			"message": err.Error(),
			"failed":  res.Failed,
		})
	case err != nil:
		return httpError(err)
	case len(res.Failed) > 0:
		return c.JSON(http.StatusMultiStatus, res)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) History(c echo.Context) error {
	key := c.QueryParam("key")
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), key, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// httpError maps lifecycle and upload errors onto HTTP status codes.
func httpError(err error) error {
	var notReady *NotReadyError
	var rejected *TransitionError
	switch {
	case errors.Is(err, ErrTransitionInFlight), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &notReady):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrNoFiles),
		errors.Is(err, ErrMissingPatientID),
		errors.Is(err, ErrMissingWalkInID),
		errors.Is(err, ErrMissingTestID),
		errors.Is(err, ErrMissingLoincCode):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &rejected), errors.Is(err, ErrUploadFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// formFile adapts an uploaded multipart part. Its size is known once the
// request has been parsed, so it is always ready when non-empty.
type formFile struct{ fh *multipart.FileHeader }

func (f formFile) Name() string { return f.fh.Filename }

func (f formFile) ContentType() string {
	if ct := f.fh.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (f formFile) Size(context.Context) (int64, error) { return f.fh.Size, nil }

func (f formFile) Open() (io.ReadCloser, error) { return f.fh.Open() }
