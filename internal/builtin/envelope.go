// Package builtin carries the protocol-level plumbing shared by the
// built-in commands and the cmd/effigy Cobra layer: the JSON envelope
// shape every --json response wraps a payload in, and the Registry
// cmd/effigy consults to dispatch a resolved built-in selector to its
// handler. test/doctor/init/migrate are supplied externally; this
// package only specifies the shared contract.
package builtin

// SchemaVersion is the current envelope schema revision.
const SchemaVersion = 1

// Envelope is the top-level JSON response shape for every --json
// invocation.
type Envelope struct {
	Schema        string         `json:"schema"`
	SchemaVersion int            `json:"schema_version"`
	OK            bool           `json:"ok"`
	Command       string         `json:"command"`
	Result        any            `json:"result,omitempty"`
	Error         *EnvelopeError `json:"error,omitempty"`
}

// EnvelopeError carries an effigyerr.Kind and message for JSON consumers
// that can't construct a Go error value.
type EnvelopeError struct {
	Kind     string   `json:"kind"`
	Message  string   `json:"message"`
	Evidence []string `json:"evidence,omitempty"`
}

// NewSuccess builds an ok=true envelope for command carrying result.
func NewSuccess(command string, result any) Envelope {
	return Envelope{
		Schema:        "effigy.envelope",
		SchemaVersion: SchemaVersion,
		OK:            true,
		Command:       command,
		Result:        result,
	}
}

// NewError builds an ok=false envelope for command carrying the error.
func NewError(command string, kind, message string, evidence ...string) Envelope {
	return Envelope{
		Schema:        "effigy.envelope",
		SchemaVersion: SchemaVersion,
		OK:            false,
		Command:       command,
		Error:         &EnvelopeError{Kind: kind, Message: message, Evidence: evidence},
	}
}
