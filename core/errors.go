package core

import (
	"errors"
	"fmt"
)

var (
	ErrCarrierOverlap       = errors.New("component carriers overlap")
	ErrCarrierOutOfBand     = errors.New("component carrier outside band bounds")
	ErrBwpCount             = errors.New("invalid bandwidth part count")
	ErrBwpOutOfCarrier      = errors.New("bandwidth part outside carrier bounds")
	ErrBwpAggregateTooLarge = errors.New("aggregate bandwidth part bandwidth exceeds carrier bandwidth")
	ErrActiveBwpMissing     = errors.New("active bandwidth part not configured")
	ErrBwpOverlap           = errors.New("bandwidth parts overlap")
	ErrDuplicateBwpID       = errors.New("duplicate bandwidth part id")
	ErrEmptyBand            = errors.New("operation band has no carriers")
	ErrBandOverlap          = errors.New("operation bands overlap")
	ErrTooManyBands         = errors.New("too many operation bands")
	ErrTooManyCarriers      = errors.New("too many aggregated component carriers")
	ErrPrimaryCount         = errors.New("exactly one primary carrier required")
	ErrInvalidRbCount       = errors.New("resource block count out of range")
	ErrInvalidBandwidth     = errors.New("invalid bandwidth")
	ErrNotFound             = errors.New("not found")
)

// ConfigError is an unrecoverable topology or setup error. Callers are
// expected to abort construction when they see one; runtime failures are
// never wrapped in it.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err belongs to the configuration class.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func configErr(op string, err error, format string, args ...any) error {
	if format == "" {
		return &ConfigError{Op: op, Err: err}
	}
	return &ConfigError{Op: op, Err: fmt.Errorf("%w: "+format, append([]any{err}, args...)...)}
}

// NewConfigError wraps err in the configuration class.
func NewConfigError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigError{Op: op, Err: err}
}
