// Package validate plugs go-playground/validator into echo's Context.Validate.
package validate

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// LOINC term codes are digits plus a mod-10 check digit ("2345-7"). Part and
// answer codes carry a two-letter prefix ("LP123", "LA6576-8") and are only
// checked for shape.
var loincPattern = regexp.MustCompile(`^(?:(LP|LA|LL)\d+(?:-\d)?|\d{1,7}-\d)$`)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()
	v.RegisterValidation("loinc", validateLoinc)
	return &Validator{validate: v}
}

// Validate returns a 400 echo.HTTPError listing every failed field.
func (v *Validator) Validate(i interface{}) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return echo.NewHTTPError(http.StatusBadRequest, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "required_without_all":
		return fmt.Sprintf("%s is required when %s are missing", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "loinc":
		return fmt.Sprintf("%s is not a LOINC code", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

func validateLoinc(fl validator.FieldLevel) bool {
	code := strings.ToUpper(fl.Field().String())
	m := loincPattern.FindStringSubmatch(code)
	if m == nil {
		return false
	}
	if m[1] != "" {
		return true
	}
	return loincCheckDigit(code[:len(code)-2]) == int(code[len(code)-1]-'0')
}

// loincCheckDigit computes the mod-10 check digit LOINC appends to a code.
func loincCheckDigit(num string) int {
	sum := 0
	double := true
	for i := len(num) - 1; i >= 0; i-- {
		d := int(num[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d = d/10 + d%10
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}
