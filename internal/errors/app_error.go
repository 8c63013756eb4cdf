package errors

import (
	"strings"
)

// ErrorType names the pipeline stage a failure came from
type ErrorType string

const (
	ErrTypeSource     ErrorType = "price_source"
	ErrTypeParsing    ErrorType = "parse"
	ErrTypeStorage    ErrorType = "cache"
	ErrTypeExport     ErrorType = "export"
	ErrTypeValidation ErrorType = "invalid_input"
	ErrTypeNotFound   ErrorType = "not_found"
	ErrTypeConfig     ErrorType = "config"
)

// AppError is a stage failure of the returns service, optionally tied to the
// symbols it affected.
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Symbols []string
}

func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Symbols) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Symbols, " "))
		b.WriteString("]")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithSymbols records the symbols the failure applies to
func (e *AppError) WithSymbols(symbols ...string) *AppError {
	e.Symbols = append(e.Symbols, symbols...)
	return e
}

func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{Type: errType, Message: message, Cause: cause}
}

// NewSourceError reports a price history or universe that could not be read
func NewSourceError(message string, cause error) *AppError {
	return NewAppError(ErrTypeSource, message, cause)
}

// NewParsingError reports a results file that could not be decoded
func NewParsingError(message string, cause error) *AppError {
	return NewAppError(ErrTypeParsing, message, cause)
}

// NewStorageError reports a price cache failure
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

func NewExportError(message string, cause error) *AppError {
	return NewAppError(ErrTypeExport, message, cause)
}

func NewInputError(message string) *AppError {
	return NewAppError(ErrTypeValidation, message, nil)
}

func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}
