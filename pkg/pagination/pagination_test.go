package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestFromContext_Defaults(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	p := FromContext(c)

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?limit=50&offset=10", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	p := FromContext(c)

	if p.Limit != 50 {
		t.Errorf("expected limit 50, got %d", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("expected offset 10, got %d", p.Offset)
	}
}

func TestParse_Clamps(t *testing.T) {
	tests := []struct {
		limit, offset string
		want          Params
	}{
		{"500", "0", Params{Limit: MaxLimit, Offset: 0}},
		{"-3", "-1", Params{Limit: DefaultLimit, Offset: 0}},
		{"abc", "7", Params{Limit: DefaultLimit, Offset: 7}},
	}
	for _, tt := range tests {
		if got := Parse(tt.limit, tt.offset); got != tt.want {
			t.Errorf("Parse(%q, %q) = %+v, want %+v", tt.limit, tt.offset, got, tt.want)
		}
	}
}

func TestWindow(t *testing.T) {
	items := []int{0, 1, 2, 3, 4}

	got := Window(items, Params{Limit: 2, Offset: 1})
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("expected [1 2], got %v", got)
	}

	got = Window(items, Params{Limit: 10, Offset: 3})
	if len(got) != 2 || got[0] != 3 {
		t.Errorf("expected [3 4], got %v", got)
	}

	got = Window(items, Params{Limit: 10, Offset: 9})
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil page, got %v", got)
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 50, Params{Limit: 20})
	if resp.Total != 50 || !resp.HasMore {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.NextOffset == nil || *resp.NextOffset != 20 {
		t.Errorf("expected next offset 20, got %v", resp.NextOffset)
	}

	resp = NewResponse([]string{"a"}, 21, Params{Limit: 20, Offset: 20})
	if resp.HasMore || resp.NextOffset != nil {
		t.Error("expected no next page on the last page")
	}
}

func TestParams_HasNext(t *testing.T) {
	p := Params{Limit: 20, Offset: 10}
	if !p.HasNext(31) || p.HasNext(30) {
		t.Error("unexpected HasNext result")
	}
}
