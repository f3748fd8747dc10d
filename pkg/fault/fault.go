package fault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const (
	Validation        = "validation"
	TransientProtocol = "transient_protocol"
	TerminalAuth      = "terminal_auth"
	IO                = "io"
	CommandExecution  = "command_execution"
)

// ErrTerminalAuth marks an explicit logout. The bundle is gone and the bot
// must be paired again.
var ErrTerminalAuth = &Error{Category: TerminalAuth, Detail: "logged out"}

// Error is a categorized failure. Category is stable and safe to branch on;
// Detail is human readable.
type Error struct {
	Category string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" && e.Err == nil {
		return e.Category
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Category, e.Detail)
	}
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}

	return fmt.Sprintf("%s: %s: %v", e.Category, e.Detail, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches category sentinels (errors without a cause), so errors.Is(err,
// ErrTerminalAuth) holds for every terminal failure.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok || other == nil || e == nil {
		return false
	}
	return other.Err == nil && other.Category == e.Category
}

func New(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

func Wrap(category string, detail string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Detail: detail, Err: err}
}

func Validationf(format string, args ...any) error {
	return &Error{Category: Validation, Detail: fmt.Sprintf(format, args...)}
}

// CategoryFromError returns the category of err. Uncategorized filesystem
// errors count as IO, anything else as a transient protocol failure.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return IO
	}

	return TransientProtocol
}

func IsValidation(err error) bool {
	return CategoryFromError(err) == Validation
}

func IsTerminal(err error) bool {
	return CategoryFromError(err) == TerminalAuth
}

// NormalizeIOError converts OS-level errors into IO faults without leaking
// full paths into user-visible text.
func NormalizeIOError(err error, detail string) error {
	if err == nil {
		return nil
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return err
	}

	if errors.Is(err, fs.ErrPermission) {
		return &Error{Category: IO, Detail: detail, Err: errors.New("operation not permitted")}
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return &Error{Category: IO, Detail: detail, Err: pathErr.Err}
	}

	return &Error{Category: IO, Detail: detail, Err: err}
}
