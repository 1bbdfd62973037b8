package services

import (
	"errors"
	"fmt"
	"net/http"
)

// BadRequestError is returned for payloads that fail validation
type BadRequestError struct {
	Message string  `json:"message"`
	Details *string `json:"details,omitempty"`
}

func (e *BadRequestError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s", e.Message, *e.Details)
	}
	return e.Message
}

// StatusCode implements the HTTP status mapping
func (e *BadRequestError) StatusCode() int { return http.StatusBadRequest }

// NotFoundError is returned when a course has no running session
type NotFoundError struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s: %s", e.Message, e.ID) }

// StatusCode implements the HTTP status mapping
func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }

// ConflictError is returned when a course already has a running session
type ConflictError struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (e *ConflictError) Error() string { return fmt.Sprintf("%s: %s", e.Message, e.ID) }

// StatusCode implements the HTTP status mapping
func (e *ConflictError) StatusCode() int { return http.StatusConflict }

// UnprocessableError is returned when a hall has no cameras or a course no
// enrolled subjects
type UnprocessableError struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (e *UnprocessableError) Error() string { return fmt.Sprintf("%s: %s", e.Message, e.ID) }

// StatusCode implements the HTTP status mapping
func (e *UnprocessableError) StatusCode() int { return http.StatusUnprocessableEntity }

// InternalError wraps unexpected failures
type InternalError struct {
	Message string  `json:"message"`
	Details *string `json:"details,omitempty"`
}

func (e *InternalError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s", e.Message, *e.Details)
	}
	return e.Message
}

// StatusCode implements the HTTP status mapping
func (e *InternalError) StatusCode() int { return http.StatusInternalServerError }

// UnavailableError is returned by readiness checks
type UnavailableError struct {
	Message string            `json:"message"`
	Checks  map[string]string `json:"checks"`
}

func (e *UnavailableError) Error() string { return e.Message }

// StatusCode implements the HTTP status mapping
func (e *UnavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// StatusCoder is implemented by every service error
type StatusCoder interface {
	StatusCode() int
}

// StatusOf returns the HTTP status for err, 500 when it carries none
func StatusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}

func stringPtr(s string) *string {
	return &s
}
