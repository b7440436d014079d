// Error wrapper recording where the wrap happened.
//
// Usage:
//
//	wrapped := xerrors.Wrap(err)
//
// The wrapped error carries the file, line and function of the wrap site, so
// a chain of wraps reads as a poor man's stack trace when printed.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

type ErrAtCaller struct {
	file string
	line int
	fn   string
	note string
	err  error
}

func (e *ErrAtCaller) Error() string {
	if e.note == "" {
		return fmt.Sprintf(`@ %s "%s" l%d <- %s`, e.fn, e.file, e.line, e.err.Error())
	}
	return fmt.Sprintf(`@ %s "%s" l%d (%s) <- %s`, e.fn, e.file, e.line, e.note, e.err.Error())
}

func (e *ErrAtCaller) Unwrap() error {
	return e.err
}

func (e *ErrAtCaller) File() string {
	return e.file
}

func (e *ErrAtCaller) Line() int {
	return e.line
}

// New creates a new error annotated with the caller of New.
func New(text string) error {
	return wrap("", errors.New(text), 1)
}

// Wrap annotates err with the caller of Wrap.
func Wrap(err error) error {
	return wrap("", err, 1)
}

// WrapWithNote is Wrap with a short free-text note.
func WrapWithNote(note string, err error) error {
	return wrap(note, err, 1)
}

func wrap(note string, err error, depth int) error {
	pc, file, line, ok := runtime.Caller(depth + 1)
	fn := "(unknown func)"
	if !ok {
		file = "?"
		line = -1
	}
	if f := runtime.FuncForPC(pc); f != nil {
		fn = f.Name()
	}

	return &ErrAtCaller{file: file, line: line, fn: fn, note: note, err: err}
}
