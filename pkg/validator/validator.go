package validator

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	playground "github.com/go-playground/validator/v10"

	"github.com/jwalitptl/alarm-service/pkg/errors"
)

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
	ValidateField(field string, value interface{}, rules ...string) error
}

type validator struct {
	v *playground.Validate
}

var (
	defaultOnce sync.Once
	defaultV    Validator
)

// New builds a validator that reports fields by their json names.
func New() Validator {
	v := playground.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return &validator{v: v}
}

// Default returns the shared process-wide validator.
func Default() Validator {
	defaultOnce.Do(func() {
		defaultV = New()
	})
	return defaultV
}

func (v *validator) Validate(obj interface{}) error {
	if err := v.v.Struct(obj); err != nil {
		return errors.BadRequest(describe(err), err)
	}
	return nil
}

func (v *validator) ValidateField(field string, value interface{}, rules ...string) error {
	if err := v.v.Var(value, strings.Join(rules, ",")); err != nil {
		var verrs playground.ValidationErrors
		if stderrors.As(err, &verrs) && len(verrs) > 0 {
			return errors.BadRequest(fmt.Sprintf("%s failed on %s", field, verrs[0].Tag()), err)
		}
		return errors.BadRequest(field+" is invalid", err)
	}
	return nil
}

func describe(err error) string {
	var verrs playground.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", e.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", e.Field(), e.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must not exceed %s characters", e.Field(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed on %s", e.Field(), e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
