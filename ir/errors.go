package ir

import "errors"

// ErrInternal signals a compiler-bug-class invariant violation: a node used
// outside its owning fusion, a missing origin after a rewire, or similar.
// Per spec.md §7 these should never fire on well-formed input and are not
// meant to be caller-recoverable in the way validation errors are.
var ErrInternal = errors.New("ir: internal invariant violated")
