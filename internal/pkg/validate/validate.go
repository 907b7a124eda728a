// Package validate exposes the shared request validator used on the
// create-user form and callback bodies.
package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// v is the process-wide validator. Custom type or tag registrations, if
// ever needed, must happen in an init() before the first Struct call.
var v = validator.New()

// Struct checks s against its `validate` tags and flattens all field
// failures into one readable error.
func Struct(s interface{}) error {
	if err := v.Struct(s); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		var msgs []string
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}
