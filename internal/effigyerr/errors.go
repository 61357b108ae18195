// Package effigyerr defines the error taxonomy shared across effigy's core
// subsystems. Each error kind carries the structured context its renderer
// needs rather than relying on string matching.
package effigyerr

import "fmt"

// Kind identifies one of the error taxonomy entries from the error handling
// design. It is not a Go error type name — several Kinds share the same
// underlying *Error struct and are distinguished only by this field.
type Kind string

const (
	RootNotFound          Kind = "RootNotFound"
	ManifestParse         Kind = "ManifestParse"
	ManifestSchema        Kind = "ManifestSchema"
	AliasConflict         Kind = "AliasConflict"
	CatalogPrefixNotFound Kind = "CatalogPrefixNotFound"
	TaskNotDefined        Kind = "TaskNotDefined"
	Ambiguous             Kind = "Ambiguous"
	GraphCycle            Kind = "GraphCycle"
	GraphBadRef           Kind = "GraphBadRef"
	LockConflict          Kind = "LockConflict"
	DeferralLoop          Kind = "DeferralLoop"
	WatchExternalOwner    Kind = "WatchExternalOwner"
	NodeFailure           Kind = "NodeFailure"
	NodeTimeout           Kind = "NodeTimeout"
	EmptyWorkspace        Kind = "EmptyWorkspace"

	// InvalidArgument is the CLI-argument error kind; it surfaces with
	// exit code 2 rather than the structural kinds' exit 1.
	InvalidArgument Kind = "InvalidArgument"
)

// Error is the common error shape for every taxonomy Kind. Fields beyond
// Kind and Message are populated only by the Kinds that need them; callers
// use errors.As and inspect Kind to decide which fields are meaningful.
type Error struct {
	Kind    Kind
	Message string

	// Evidence carries kind-specific diagnostic context, e.g. the list of
	// ambiguous catalog aliases, a cycle's node path, or a lock holder PID.
	Evidence []string

	// ExitCode is the process exit code this error should surface as when
	// it escapes to the top level uncaught by a more specific handler.
	ExitCode int

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given Kind with a default exit code of 1.
func New(kind Kind, message string, evidence ...string) *Error {
	return &Error{Kind: kind, Message: message, Evidence: evidence, ExitCode: 1}
}

// Wrap builds an *Error of the given Kind that wraps an underlying cause.
func Wrap(kind Kind, message string, err error, evidence ...string) *Error {
	return &Error{Kind: kind, Message: message, Evidence: evidence, ExitCode: 1, Err: err}
}

// WithExitCode returns a copy of e with ExitCode set, for errors whose
// process exit code differs from the default 1.
func (e *Error) WithExitCode(code int) *Error {
	cp := *e
	cp.ExitCode = code
	return &cp
}
