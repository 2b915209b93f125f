// Package job defines the transcoding job payload carried on the work queue.
package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// ErrMalformedPayload is returned when a queue payload cannot be turned into
// a Descriptor. Messages failing with it are discarded, not retried.
var ErrMalformedPayload = errors.New("malformed job payload")

// maxVideoIDLength bounds the id since it becomes a storage prefix and a
// directory name.
const maxVideoIDLength = 128

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

var validate = newValidator()

// Descriptor is the payload of a transcoding job: the video to process.
type Descriptor struct {
	VideoID string `json:"VideoId" validate:"required,videoid"`
}

// ValidVideoID reports whether id is safe to use as a single path segment.
func ValidVideoID(id string) bool {
	if id == "" || id == "." || id == ".." || len(id) > maxVideoIDLength {
		return false
	}
	return videoIDPattern.MatchString(id)
}

// Parse decodes and validates a queue payload.
func Parse(body []byte) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(body, &d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validate.Struct(d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return d, nil
}

// Marshal encodes d for enqueueing.
func Marshal(d Descriptor) ([]byte, error) {
	if err := validate.Struct(d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return json.Marshal(d)
}

// Validator returns a validator with the "videoid" tag registered, for
// callers validating request types that embed a video id.
func Validator() *validator.Validate {
	return validate
}

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("videoid", func(fl validator.FieldLevel) bool {
		return ValidVideoID(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}
