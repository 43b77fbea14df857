package engine

import (
	"errors"
	"strings"
)

// ErrConfiguration matches every ConfigurationError.
var ErrConfiguration = errors.New("configuration incomplete")

// ConfigurationError means the user must supply something before a flow
// can run.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "missing " + strings.Join(e.Missing, ", ")
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ErrNoDocument is returned by pull when no remote document holds
// cookie content.
var ErrNoDocument = errors.New("no compatible remote document found")

// ErrIncompleteDocument is returned by pull when the document lacks the
// content file.
var ErrIncompleteDocument = errors.New("remote document has no cookie content")
