package middleware

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/alarm-service/pkg/errors"
)

var registerOnce sync.Once

// RegisterBindingValidation makes gin's binding validator report fields by
// their json names.
func RegisterBindingValidation() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(func(fld reflect.StructField) string {
				name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
				if name == "-" || name == "" {
					return fld.Name
				}
				return name
			})
		}
	})
}

// BindingError converts a ShouldBind failure into a bad request.
func BindingError(err error) error {
	var errs validator.ValidationErrors
	if !stderrors.As(err, &errs) {
		return errors.BadRequest("malformed request body", err)
	}

	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", e.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s is too long", e.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", e.Field(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed on %s", e.Field(), e.Tag()))
		}
	}
	return errors.BadRequest(strings.Join(msgs, "; "), err)
}
