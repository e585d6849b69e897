// Package validation checks decoded requests and option structs with
// go-playground/validator. Failures become VALIDATION_ERROR AppErrors whose
// details map each offending JSON field to a message.
package validation

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/gridcode"
	"github.com/geosot/gridindex/telemetry"
)

var engine = sync.OnceValue(func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(jsonName)
	// latitude and longitude are validator built-ins
	for tag, max := range map[string]int64{
		"grid_level":   gridcode.MaxLevel,
		"tagged_level": gridcode.MaxTaggedLevel,
	} {
		if err := v.RegisterValidation(tag, levelAtMost(max)); err != nil {
			panic(err)
		}
	}
	return v
})

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

func levelAtMost(max int64) validator.Func {
	return func(fl validator.FieldLevel) bool {
		l := fl.Field().Int()
		return l >= 0 && l <= max
	}
}

// Struct validates s. It returns nil or a validation *AppError.
func Struct(s any) error {
	err := engine().Struct(s)
	if err == nil {
		return nil
	}
	fields := Fields(err)
	if len(fields) == 0 {
		return apperrors.Wrap(err, apperrors.CodeValidation, "validation failed")
	}
	return apperrors.ValidationWithDetails("validation failed: "+fields.Error(), fields.Details())
}

// Var validates a single value against tag and returns the raw validator
// error.
func Var(field any, tag string) error {
	return engine().Var(field, tag)
}

// FieldError is one failed constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, e := range fe {
		parts[i] = e.Field + " " + e.Message
	}
	return strings.Join(parts, "; ")
}

// Details keys the messages by field. A field failing several constraints
// keeps the first.
func (fe FieldErrors) Details() map[string]string {
	d := make(map[string]string, len(fe))
	for _, e := range fe {
		if _, seen := d[e.Field]; !seen {
			d[e.Field] = e.Message
		}
	}
	return d
}

// Fields extracts the field failures from a validator error; any other
// error yields nil.
func Fields(err error) FieldErrors {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	out := make(FieldErrors, 0, len(ve))
	for _, e := range ve {
		out = append(out, FieldError{Field: e.Field(), Message: message(e)})
	}
	return out
}

var messages = map[string]string{
	"required":     "is required",
	"latitude":     "must be a latitude in [-90,90]",
	"longitude":    "must be a longitude in [-180,180]",
	"grid_level":   "must be a grid level in [0,32]",
	"tagged_level": "must be a grid level in [0,29]",
}

var bounded = map[string]string{
	"min":      "must be at least ",
	"max":      "must be at most ",
	"gt":       "must be greater than ",
	"gte":      "must be at least ",
	"lt":       "must be less than ",
	"lte":      "must be at most ",
	"gtefield": "must not be below ",
	"ltefield": "must not be above ",
	"oneof":    "must be one of: ",
}

func message(e validator.FieldError) string {
	if m, ok := messages[e.Tag()]; ok {
		return m
	}
	if prefix, ok := bounded[e.Tag()]; ok {
		return prefix + e.Param()
	}
	return "is invalid"
}

// DecodeAndValidate decodes a JSON body into dst and validates it. A body
// without a Content-Type is accepted as JSON. On failure it writes the
// error response and returns false.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	traceID := telemetry.TraceID(r.Context())
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			apperrors.WriteErrorWithStatus(w, http.StatusUnsupportedMediaType, apperrors.CodeBadRequest,
				"content type must be application/json")
			return false
		}
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apperrors.WriteError(w, apperrors.BadRequest("invalid JSON body: "+err.Error()), traceID)
		return false
	}
	if err := Struct(dst); err != nil {
		apperrors.WriteError(w, err, traceID)
		return false
	}
	return true
}
