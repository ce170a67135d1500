package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/Bafix001/zibridge/pkg/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode converts args (a map, a struct, raw JSON) to T and validates it.
func Decode[T any](args any) (T, error) {
	var result T

	if arg, ok := args.(T); ok {
		return Validate(arg)
	}

	var b []byte
	switch v := args.(type) {
	case []byte:
		b = v
	case json.RawMessage:
		b = v
	default:
		encoded, err := json.Marshal(args)
		if err != nil {
			return result, err
		}
		b = encoded
	}

	if err := json.Unmarshal(b, &result); err != nil {
		return result, apperrors.Invalidf("argument is not a valid %T", result)
	}

	return Validate(result)
}

// Validate runs the struct's validate tags.
func Validate[T any](value T) (T, error) {
	if err := validate.Struct(value); err != nil {
		return value, toError(value, err)
	}
	return value, nil
}

// ValidateValue checks a single value against a tag expression.
func ValidateValue(value any, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		return toError(value, err)
	}
	return nil
}

func toError(input any, err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.Wrap(apperrors.KindInvalid, err, "validation failed")
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s=%s'", fe.StructField(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s'", fe.StructField(), fe.Tag()))
	}
	return apperrors.Invalidf("invalid %T: %s", input, strings.Join(msgs, "; "))
}
