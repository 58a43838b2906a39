package handler

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iliyamo/dental-clinic-admin/internal/model"
)

// Validator plugs go-playground/validator into echo (e.Validator).
// Field names in messages are the JSON names.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Patch fields validate their value only when one was sent.
	v.RegisterCustomTypeFunc(func(f reflect.Value) interface{} {
		o := f.Interface().(model.Optional[string])
		if !o.Set || o.Null {
			return ""
		}
		return o.Value
	}, model.Optional[string]{})
	v.RegisterCustomTypeFunc(func(f reflect.Value) interface{} {
		o := f.Interface().(model.Optional[model.Date])
		if !o.Set || o.Null {
			return nil
		}
		return o.Value.Time
	}, model.Optional[model.Date]{})
	return &Validator{v: v}
}

func (cv *Validator) Validate(i interface{}) error {
	return cv.v.Struct(i)
}

// validationMessage turns a validator error into one short sentence for
// the client.
func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "invalid request body"
	}
	fe := ve[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "uuid", "uuid4":
		return fe.Field() + " must be a valid UUID"
	case "min":
		return fe.Field() + " must be at least " + fe.Param() + " characters"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	}
	return fe.Field() + " is invalid"
}
