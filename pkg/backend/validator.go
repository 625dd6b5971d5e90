package backend

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	validate *validator.Validate
}

// NewValidator reports fields by their JSON names so messages match the wire
// format the backend speaks.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return &Validator{validate: v}
}

func (v *Validator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	messages := make([]string, 0, len(validationErrs))
	for _, fieldErr := range validationErrs {
		switch fieldErr.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", fieldErr.Field()))
		case "gte":
			messages = append(messages, fmt.Sprintf("%s must be greater than or equal to %s", fieldErr.Field(), fieldErr.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation for %s", fieldErr.Field(), fieldErr.Tag()))
		}
	}
	return errors.New(strings.Join(messages, "; "))
}
