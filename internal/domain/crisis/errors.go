package crisis

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRegistry is wrapped by every ConfigurationError.
	ErrInvalidRegistry = errors.New("invalid keyword registry")

	// ErrInputTooLarge is wrapped by every InputTooLargeError.
	ErrInputTooLarge = errors.New("input exceeds maximum length")
)

// ConfigurationError reports a malformed keyword registry. It is only ever
// returned while loading, before any text is analyzed.
type ConfigurationError struct {
	Source   string
	Problems []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("keyword registry %s: %s", e.Source, e.Problems[0])
	}
	return fmt.Sprintf("keyword registry %s: %d problems, first: %s", e.Source, len(e.Problems), e.Problems[0])
}

func (e *ConfigurationError) Unwrap() error { return ErrInvalidRegistry }

// InputTooLargeError is returned when text exceeds the configured limit.
// Oversized input is rejected whole, never partially scanned.
type InputTooLargeError struct {
	Length int
	Limit  int
}

func (e *InputTooLargeError) Error() string {
	return fmt.Sprintf("input is %d characters, limit is %d", e.Length, e.Limit)
}

func (e *InputTooLargeError) Unwrap() error { return ErrInputTooLarge }
