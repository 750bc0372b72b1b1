package errors

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig   Category = "config"
	CategoryCLI      Category = "cli"
	CategoryProtocol Category = "protocol"
	CategoryStorage  Category = "storage"
)

// Location represents a position in a configuration file.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// TetherError is a structured error with an optional file location and a
// hint on how to fix it.
type TetherError struct {
	// Code is a unique error identifier (e.g., "T101").
	Code string

	// Category is the error type (config, cli, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is where in a file the error occurred.
	Location *Location

	// Context contains the surrounding file lines, starting at ContextStart.
	Context      []string
	ContextStart int

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *TetherError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *TetherError) Unwrap() error {
	return e.Wrapped
}

// WithLocation adds a file location and reads the surrounding lines.
func (e *TetherError) WithLocation(file string, line, column int) *TetherError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context, e.ContextStart = readContextLines(file, line, 5)
	return e
}

// WithOffset locates a byte offset within data, as reported by
// encoding/json syntax errors.
func (e *TetherError) WithOffset(file string, data []byte, offset int64) *TetherError {
	if offset < 0 || offset > int64(len(data)) {
		return e
	}
	head := data[:offset]
	line := bytes.Count(head, []byte("\n")) + 1
	column := int(offset) - (bytes.LastIndexByte(head, '\n') + 1)
	if column < 1 {
		column = 1
	}
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context, e.ContextStart = contextLines(bytes.NewReader(data), line, 5)
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *TetherError) WithSuggestion(s string) *TetherError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *TetherError) WithDetail(d string) *TetherError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *TetherError) Wrap(err error) *TetherError {
	e.Wrapped = err
	return e
}

func readContextLines(filename string, targetLine, contextSize int) ([]string, int) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, 0
	}
	defer file.Close()
	return contextLines(file, targetLine, contextSize)
}

// contextLines returns up to contextSize lines centred on targetLine and
// the number of the first one.
func contextLines(r io.Reader, targetLine, contextSize int) ([]string, int) {
	var lines []string
	scanner := bufio.NewScanner(r)
	lineNum := 0
	startLine := max(targetLine-contextSize/2, 1)
	endLine := targetLine + contextSize/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}
	return lines, startLine
}

// New creates a TetherError from a registered error code.
func New(code string) *TetherError {
	template, ok := registry[code]
	if !ok {
		return &TetherError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &TetherError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new TetherError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *TetherError {
	return &TetherError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a TetherError.
func FromError(err error, code string) *TetherError {
	if err == nil {
		return nil
	}
	if te, ok := err.(*TetherError); ok {
		return te
	}
	return New(code).Wrap(err)
}
