package parser

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrSyntax         = errors.New("syntax error")
	ErrMissingInclude = errors.New("missing include")
	ErrDirective      = errors.New("bad directive")
)

// ParsingError reports a problem at a specific location in a header. The
// Kind is one of ErrSyntax, ErrMissingInclude or ErrDirective so callers
// can test for it with errors.Is.
type ParsingError struct {
	Pos  Position
	Msg  string
	Kind error
}

func (e *ParsingError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Pos, e.Kind, e.Msg)
}

func (e *ParsingError) Unwrap() error {
	return e.Kind
}

func newParsingError(kind error, pos Position, format string, args ...any) error {
	return &ParsingError{
		Pos:  pos,
		Msg:  fmt.Sprintf(format, args...),
		Kind: kind,
	}
}
