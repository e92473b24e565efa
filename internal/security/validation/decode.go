package validation

import (
	"github.com/mitchellh/mapstructure"

	"github.com/turtacn/ConstructOps/pkg/errors"
)

// Decode copies a successful Result into T, matching fields by json tag.
func Decode[T any](r Result) (T, error) {
	var out T
	if !r.OK() {
		return out, r.Err()
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, errors.Wrap(err, errors.ErrCodeInternal, "Internal server error")
	}
	if err := dec.Decode(r.Value); err != nil {
		return out, errors.Wrap(err, errors.ErrCodeValidation, "Validation failed")
	}
	return out, nil
}
