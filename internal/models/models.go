// Package models defines the core data structures shared across PayPipe.
package models

import (
	"errors"
	"strings"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
	ErrEmptyMessageID = errors.New("message id cannot be empty")
	ErrEmptySender    = errors.New("sender cannot be empty")
)

// Document is a binary attachment received from a user.
type Document struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	MediaID  string `json:"media_id,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// Message represents an inbound message from a WhatsApp user.
type Message struct {
	ID       string    `json:"id"`
	From     string    `json:"from"`
	Body     string    `json:"body"`
	Document *Document `json:"document,omitempty"`
	Time     int64     `json:"time"`
}

// Validate checks the fields the inbound pipeline depends on.
func (m *Message) Validate() error {
	if m.ID == "" {
		return ErrEmptyMessageID
	}
	if m.From == "" {
		return ErrEmptySender
	}
	return nil
}

// Text returns the trimmed message body.
func (m *Message) Text() string {
	return strings.TrimSpace(m.Body)
}

// HasDocument reports whether the message carries an attachment.
func (m *Message) HasDocument() bool {
	return m.Document != nil
}

// ValidationResult is the outcome of validating one raw field value.
type ValidationResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
	Value   string `json:"value,omitempty"`
}

// Valid returns an accepting result carrying the canonical value.
func Valid(value string) ValidationResult {
	return ValidationResult{Valid: true, Value: value}
}

// Invalid returns a rejecting result with a user-facing reason.
func Invalid(message string) ValidationResult {
	return ValidationResult{Message: message}
}

// HistoryEntry is one line of the rolling conversation log.
type HistoryEntry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// MaxHistoryEntries bounds the rolling conversation log.
const MaxHistoryEntries = 10

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
