package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const defaultBodyLimit = 1 << 20

var sizeUnits = map[string]int64{
	"": 1, "B": 1,
	"K": 1 << 10, "KB": 1 << 10,
	"M": 1 << 20, "MB": 1 << 20,
	"G": 1 << 30, "GB": 1 << 30,
}

// ParseSize reads sizes such as "512K", "25M" or "1024". Anything it cannot
// read yields 1M.
func ParseSize(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	num, unit := s, ""
	if i := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		num, unit = s[:i], strings.TrimSpace(s[i:])
	}
	n, err := strconv.ParseInt(num, 10, 64)
	mult, ok := sizeUnits[unit]
	if err != nil || !ok || n <= 0 {
		return defaultBodyLimit
	}
	return n * mult
}

// BodyLimit caps request bodies. Report uploads (POST on a path ending in
// /upload) get uploadLimit, every other request defaultLimit.
func BodyLimit(defaultLimit, uploadLimit string) echo.MiddlewareFunc {
	def, upload := ParseSize(defaultLimit), ParseSize(uploadLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := def
			if isUpload(req) {
				limit = upload
			}
			if req.ContentLength > limit {
				return tooLarge(limit)
			}

			req.Body = http.MaxBytesReader(c.Response(), req.Body, limit)
			err := next(c)

			// Binders wrap read errors, so look through them.
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return tooLarge(limit)
			}
			return err
		}
	}
}

func isUpload(r *http.Request) bool {
	return r.Method == http.MethodPost && strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/upload")
}

func tooLarge(limit int64) error {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
		fmt.Sprintf("request body exceeds %d bytes", limit))
}
