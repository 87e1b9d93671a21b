package handlers

import (
	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new CustomValidator.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// LoginRequest is the magic link request form.
type LoginRequest struct {
	Email string `form:"email" validate:"required,email,max=254"`
}

// VerifyRequest carries the token of a followed magic link.
type VerifyRequest struct {
	Token string `query:"token" validate:"required"`
}

// MessagesRequest selects the conversation whose history is listed.
type MessagesRequest struct {
	ConversationID string `param:"id" validate:"required,max=128"`
}
