package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is matching against the typed errors below.
var (
	ErrSchema        = errors.New("schema error")
	ErrLookup        = errors.New("lookup error")
	ErrConfiguration = errors.New("configuration error")
)

// SchemaError is returned when required columns are missing from a record table.
type SchemaError struct {
	Missing []string
	Hint    string
}

func (e SchemaError) Error() string {
	msg := fmt.Sprintf("missing required column(s): %s", strings.Join(e.Missing, ", "))
	if e.Hint != "" {
		msg += "; " + e.Hint
	}
	return msg
}

// Is lets errors.Is(err, ErrSchema) match.
func (e SchemaError) Is(target error) bool { return target == ErrSchema }

// LookupError is returned when a requested field is not present in the record table.
type LookupError struct {
	Field string
}

func (e LookupError) Error() string {
	return fmt.Sprintf("cannot retrieve %q: unknown column name", e.Field)
}

// Is lets errors.Is(err, ErrLookup) match.
func (e LookupError) Is(target error) bool { return target == ErrLookup }

// ConfigurationError reports an unsupported or conflicting option.
type ConfigurationError struct {
	Option string
	Value  string
	Reason string
}

func (e ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Option, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Option, e.Value, e.Reason)
}

// Is lets errors.Is(err, ErrConfiguration) match.
func (e ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
