// Package pdferr defines the closed set of errors surfaced by the COS
// engine. Callers distinguish kinds with errors.Is / errors.As; everything
// the parser and writer return wraps one of these.
package pdferr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHeader reports a first line that does not start with %PDF-.
	ErrInvalidHeader = errors.New("pdfcos: invalid PDF header")
	// ErrMissingStartXRef reports that no startxref marker was found near
	// the end of the file. Recovery heuristics belong to callers.
	ErrMissingStartXRef = errors.New("pdfcos: startxref not found")
	// ErrInvalidXRef reports a malformed cross-reference table or stream.
	ErrInvalidXRef = errors.New("pdfcos: invalid cross-reference section")
	// ErrInvalidTrailer reports a missing trailer or a trailer without /Root.
	ErrInvalidTrailer = errors.New("pdfcos: invalid or missing trailer")
)

// UnsupportedError reports a structurally valid construct the engine does
// not handle, naming it, e.g. a non-Flate filter on a cross-reference
// stream or an unknown xref entry type.
type UnsupportedError struct {
	Feature string
}

func (e *UnsupportedError) Error() string {
	return "pdfcos: unsupported feature: " + e.Feature
}

// SyntaxError reports malformed object syntax, with the byte offset where
// it was detected when one is known.
type SyntaxError struct {
	Msg string
	Pos int64
	Err error
}

func (e *SyntaxError) Error() string {
	if e.Pos > 0 {
		return fmt.Sprintf("pdfcos: syntax error at byte %d: %s", e.Pos, e.Msg)
	}
	return "pdfcos: syntax error: " + e.Msg
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// Syntax builds a SyntaxError without position information.
func Syntax(msg string) error { return &SyntaxError{Msg: msg} }

// SyntaxAt builds a SyntaxError at a byte offset.
func SyntaxAt(msg string, pos int64) error { return &SyntaxError{Msg: msg, Pos: pos} }

// Unsupported builds an UnsupportedError for the named feature.
func Unsupported(feature string) error { return &UnsupportedError{Feature: feature} }
