package engine

import (
	"errors"
	"fmt"
)

// ErrDependencyUnavailable signals that a backend was not compiled into this binary.
var ErrDependencyUnavailable = errors.New("engine: dependency unavailable")

// LoadError reports a model or tokenizer that could not be loaded.
type LoadError struct {
	Backend string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("engine: load %s backend: %v", e.Backend, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

var errNoPiece = errors.New("engine: SampleNext called before ComputeNext produced a piece")
