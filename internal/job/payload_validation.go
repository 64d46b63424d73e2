package job

import (
	"bytes"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/dto"
	"github.com/joshu-sajeev/jobqueue/middleware"
)

var validate = validator.New()

// ValidationError rejects an enqueue request before any job is created.
type ValidationError struct {
	Message string
	Fields  map[string]any
}

func (e ValidationError) Error() string {
	return e.Message
}

func (e ValidationError) Unwrap() error {
	return badRequest(e.Message, e.Fields)
}

// payloadValidators checks the payload shape of the built-in job types.
var payloadValidators = map[string]func(json.RawMessage) error{
	config.JobTypeDataProcessing:   validatePayload[dto.DataProcessingPayload],
	config.JobTypeImageProcessing:  validatePayload[dto.ImageProcessingPayload],
	config.JobTypeEmailSending:     validatePayload[dto.EmailSendingPayload],
	config.JobTypeReportGeneration: validatePayload[dto.ReportGenerationPayload],
}

// validateObject requires raw to be a JSON object.
func validateObject(raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		return ValidationError{Message: "payload must be valid JSON"}
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ValidationError{Message: "payload must be a JSON object"}
	}
	return nil
}

func validatePayload[T any](raw json.RawMessage) error {
	var payload T

	if err := json.Unmarshal(raw, &payload); err != nil {
		return ValidationError{Message: "invalid payload format"}
	}

	if err := validate.Struct(payload); err != nil {
		return ValidationError{
			Message: "payload validation failed",
			Fields:  middleware.FormatValidationErrors(err),
		}
	}

	return nil
}
