package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxQuestionLength bounds a submitted question.
const MaxQuestionLength = 4000

// ValidateQuestion validates a submitted question.
func ValidateQuestion(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("question cannot be empty")
	}
	if len(content) > MaxQuestionLength {
		return errors.New("question exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("question must be valid UTF-8")
	}
	return nil
}

// ValidateSessionID validates a saved-session ID.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("session ID exceeds maximum length")
	}
	return nil
}

// ValidateTitle validates a session title.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.New("title cannot be empty")
	}
	if len(title) > 256 {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}
