package dto

// Payloads of the built-in job types. Every field is optional; handlers
// fall back to a placeholder when one is missing.

type DataProcessingPayload struct {
	Input string `json:"input" validate:"omitempty,max=10000"`
}

type ImageProcessingPayload struct {
	ImagePath string `json:"imagePath" validate:"omitempty,max=1024"`
}

type EmailSendingPayload struct {
	Recipient string `json:"recipient" validate:"omitempty,email"`
	Subject   string `json:"subject" validate:"omitempty,max=998"`
	Body      string `json:"body"`
}

type ReportGenerationPayload struct {
	ReportType string `json:"reportType" validate:"omitempty,max=255"`
}
