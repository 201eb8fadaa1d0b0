package records

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is matched by every ValidationError.
var ErrInvalid = errors.New("invalid record")

// FieldError names one failing field by its JSON name.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrInvalid.Error()
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Error)
	}
	return ErrInvalid.Error() + ": " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// Use JSON tag names for errors instead of Go struct names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks a record (or a slice element of one) against its struct tags.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fieldPath(fe), Error: describe(fe)})
	}
	return out
}

// ValidateBatch validates every person and the institute, prefixing field paths with the record index.
func ValidateBatch(people []Person, inst Institute) error {
	out := &ValidationError{}
	if err := Validate(inst); err != nil {
		out.Fields = append(out.Fields, prefixed("institute", err)...)
	}
	for i, p := range people {
		if err := Validate(p); err != nil {
			out.Fields = append(out.Fields, prefixed(fmt.Sprintf("records[%d]", i), err)...)
		}
	}
	if len(out.Fields) == 0 {
		return nil
	}
	return out
}

func prefixed(prefix string, err error) []FieldError {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		return []FieldError{{Field: prefix, Error: err.Error()}}
	}
	fields := make([]FieldError, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		fields = append(fields, FieldError{Field: prefix + "." + f.Field, Error: f.Error})
	}
	return fields
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be an absolute URL"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
