// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeClientNotFound    = "CLIENT_NOT_FOUND"
	CodeCampaignNotFound  = "CAMPAIGN_NOT_FOUND"
	CodeRecipientNotFound = "RECIPIENT_NOT_FOUND"
	CodeAuthentication    = "AUTHENTICATION_ERROR"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeInternal          = "INTERNAL"
)

// ErrCampaignNotFound is returned when a campaign id or public token resolves to nothing.
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign %q not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrClientNotFound struct {
	ClientID string
}

func (e *ErrClientNotFound) Error() string {
	return fmt.Sprintf("client %q not found", e.ClientID)
}

func NewClientNotFound(id string) error {
	return &ErrClientNotFound{ClientID: id}
}

type ErrRecipientNotFound struct {
	RecipientID string
}

func (e *ErrRecipientNotFound) Error() string {
	return fmt.Sprintf("recipient %q not found", e.RecipientID)
}

func NewRecipientNotFound(id string) error {
	return &ErrRecipientNotFound{RecipientID: id}
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AuthenticationError means the caller is missing or has the wrong credentials.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

type ErrInvalidTransition struct {
	From, To string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("cannot move campaign from %s to %s", e.From, e.To)
}

// Code maps an error to its stable API code.
func Code(err error) string {
	var (
		v  *ValidationError
		cl *ErrClientNotFound
		ca *ErrCampaignNotFound
		re *ErrRecipientNotFound
		au *AuthenticationError
		tr *ErrInvalidTransition
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &v):
		return CodeValidation
	case errors.As(err, &cl):
		return CodeClientNotFound
	case errors.As(err, &ca):
		return CodeCampaignNotFound
	case errors.As(err, &re):
		return CodeRecipientNotFound
	case errors.As(err, &au):
		return CodeAuthentication
	case errors.As(err, &tr):
		return CodeInvalidTransition
	}
	return CodeInternal
}

func HTTPStatus(err error) int {
	switch Code(err) {
	case "":
		return http.StatusOK
	case CodeValidation:
		return http.StatusBadRequest
	case CodeClientNotFound, CodeCampaignNotFound, CodeRecipientNotFound:
		return http.StatusNotFound
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeInvalidTransition:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
