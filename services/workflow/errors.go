package workflow

import (
	stderrors "errors"
	"fmt"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	CodeInvalidCategory     = "INVALID_CATEGORY"
	CodeMalformedPayload    = "MALFORMED_PAYLOAD"
	CodeDanglingReference   = "DANGLING_REFERENCE"
	CodeIllegalDirection    = "ILLEGAL_DIRECTION"
	CodeCycleDetected       = "CYCLE_DETECTED"
	CodeDuplicateNode       = "DUPLICATE_NODE"
	CodeUnknownIntent       = "UNKNOWN_INTENT"
	CodeUnresolvedReference = "UNRESOLVED_REFERENCE"
	CodeBridgeCallFailed    = "BRIDGE_CALL_FAILED"
)

// Structural errors are raised by validation and always leave the editor state untouched.
var (
	ErrInvalidCategory = apperrors.New("invalid category", apperrors.CategoryValidation).
				WithTextCode(CodeInvalidCategory)
	ErrMalformedPayload = apperrors.New("malformed payload", apperrors.CategoryValidation).
				WithTextCode(CodeMalformedPayload)
	ErrDanglingReference = apperrors.New("dangling reference", apperrors.CategoryBadInput).
				WithTextCode(CodeDanglingReference)
	ErrIllegalDirection = apperrors.New("illegal direction", apperrors.CategoryBadInput).
				WithTextCode(CodeIllegalDirection)
	ErrCycleDetected = apperrors.New("cycle detected", apperrors.CategoryBadInput).
				WithTextCode(CodeCycleDetected)
	ErrDuplicateNode = apperrors.New("duplicate node id", apperrors.CategoryConflict).
				WithTextCode(CodeDuplicateNode)
	ErrUnknownIntent = apperrors.New("unknown intent", apperrors.CategoryBadInput).
				WithTextCode(CodeUnknownIntent)
)

var (
	ErrUnresolvedReference = apperrors.New("unresolved reference", apperrors.CategoryValidation).
				WithTextCode(CodeUnresolvedReference)
	ErrBridgeCallFailed = apperrors.New("bridge call failed", apperrors.CategoryExternal).
				WithTextCode(CodeBridgeCallFailed)
)

func newError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

func nodeError(base *apperrors.Error, nodeID, format string, args ...any) *apperrors.Error {
	return newError(base, fmt.Sprintf(format, args...), nil, map[string]any{"node_id": nodeID})
}

// Code returns the text code carried by err, or "" for errors outside the taxonomy.
func Code(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// HasCode reports whether err carries the given text code.
func HasCode(err error, code string) bool {
	return err != nil && Code(err) == code
}

// Diagnostic is a field-addressable report attached to a rejected intent or a failed compilation.
type Diagnostic struct {
	NodeID  string `json:"nodeId,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (d Diagnostic) Error() string {
	if d.NodeID == "" {
		return d.Code + ": " + d.Message
	}
	return fmt.Sprintf("%s: node %s: %s", d.Code, d.NodeID, d.Message)
}

// diagnosticFrom converts a taxonomy error into a Diagnostic.
func diagnosticFrom(err error) Diagnostic {
	d := Diagnostic{Code: Code(err), Message: err.Error()}
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		d.Message = ge.Message
		if id, ok := ge.Metadata["node_id"].(string); ok {
			d.NodeID = id
		}
	}
	if d.Code == "" {
		d.Code = CodeMalformedPayload
	}
	return d
}

// CompileError reports every unresolved reference found while compiling a graph.
type CompileError struct {
	Diagnostics []Diagnostic
}

func (e *CompileError) Error() string {
	parts := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		parts = append(parts, d.Error())
	}
	return "compile workflow: " + strings.Join(parts, "; ")
}

// Unwrap exposes the taxonomy error so Code and HasCode work on a CompileError.
func (e *CompileError) Unwrap() error {
	return ErrUnresolvedReference
}

func asCompileError(err error, target **CompileError) bool {
	return stderrors.As(err, target)
}
