// Package rpcserver exposes the Job Store, Runner Registry, Radar, Routing,
// Cascade and Artifact Validator operations as MCP tools over JSON-RPC,
// wrapping every result in the uniform envelope spec.md §6 describes.
// Grounded on the teacher's internal/controlplane/mcpserver: the same
// mcp.AddTool registration idiom, with the envelopeResult marshaling helper
// wrapping raw results in an explicit success/error envelope instead of
// returning them bare.
package rpcserver

import (
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cascadehq/cascade/internal/artifact"
	"github.com/cascadehq/cascade/internal/proofgate"
	"github.com/cascadehq/cascade/internal/store"
)

// Standard error codes from spec.md §6.
const (
	CodeInvalidInput         = "INVALID_INPUT"
	CodeUnknownID            = "UNKNOWN_ID"
	CodeUnknownTool          = "UNKNOWN_TOOL"
	CodeConflict             = "CONFLICT"
	CodePreconditionFailed   = "PRECONDITION_FAILED"
	CodeRevisionMismatch     = "REVISION_MISMATCH"
	CodeStoreError           = "STORE_ERROR"
	CodeWorkspaceLocked      = "WORKSPACE_LOCKED"
	CodeProjectGuardMismatch = "PROJECT_GUARD_MISMATCH"
	CodeReasoningRequired    = "REASONING_REQUIRED"
)

// EnvelopeError is the error payload half of the uniform tool envelope.
type EnvelopeError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Recovery string `json:"recovery,omitempty"`
}

// Envelope wraps every tool response per spec.md §6: {success, intent,
// result?, error?, suggestions[], warnings[]}.
type Envelope struct {
	Success     bool           `json:"success"`
	Intent      string         `json:"intent"`
	Result      any            `json:"result,omitempty"`
	Error       *EnvelopeError `json:"error,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
}

// ok builds a successful envelope and renders it as a tool result.
func ok(intent string, result any, warnings ...string) (*mcp.CallToolResult, any, error) {
	env := Envelope{Success: true, Intent: intent, Result: result, Warnings: warnings}
	return envelopeResult(env)
}

// fail builds a failed envelope from a Go error, classifying it into the
// taxonomy of spec.md §7, and renders it as a tool result. The returned
// Go error is always nil: callers never see a transport-level tool error
// for a classified business failure, only the envelope's error field —
// matching "the core never panics on operator input".
func fail(intent string, err error) (*mcp.CallToolResult, any, error) {
	env := Envelope{Success: false, Intent: intent, Error: classify(err)}
	return envelopeResult(env)
}

func envelopeResult(env Envelope) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil, nil
}

// classify maps an internal sentinel/typed error onto the standard error
// code + recovery hint taxonomy from spec.md §7.
func classify(err error) *EnvelopeError {
	if err == nil {
		return nil
	}

	var valErr *artifact.ValidationError
	if errors.As(err, &valErr) {
		return &EnvelopeError{
			Code:     CodeInvalidInput,
			Message:  valErr.Error(),
			Recovery: "fix field " + valErr.Path + " and resubmit",
		}
	}

	switch {
	case errors.Is(err, store.ErrUnknownID):
		return &EnvelopeError{Code: CodeUnknownID, Message: err.Error(), Recovery: "check the job id and retry"}
	case errors.Is(err, store.ErrInvalidInput):
		return &EnvelopeError{Code: CodeInvalidInput, Message: err.Error()}
	case errors.Is(err, store.ErrRevisionMismatch):
		return &EnvelopeError{Code: CodeRevisionMismatch, Message: err.Error(), Recovery: "re-fetch the job and retry with its current revision"}
	case errors.Is(err, store.ErrJobClaimMismatch):
		return &EnvelopeError{Code: CodeConflict, Message: err.Error(), Recovery: "re-claim then retry"}
	case errors.Is(err, store.ErrJobNotClaimable),
		errors.Is(err, store.ErrJobNotRunning),
		errors.Is(err, store.ErrJobNotMessageable),
		errors.Is(err, store.ErrJobNotCancelable),
		errors.Is(err, store.ErrJobNotRequeueable),
		errors.Is(err, store.ErrJobAlreadyTerminal):
		return &EnvelopeError{Code: CodeConflict, Message: err.Error()}
	case errors.Is(err, errProofRequired):
		return &EnvelopeError{Code: CodePreconditionFailed, Message: err.Error(), Recovery: proofgate.RecoveryHint}
	default:
		return &EnvelopeError{Code: CodeStoreError, Message: err.Error()}
	}
}

// errProofRequired is the proof-gate's sentinel, distinct from the store
// package because the gate is applied at the RPC boundary, not inside a
// store transaction (spec.md §4.7: "a reusable helper elsewhere").
var errProofRequired = errors.New("proof required: DONE needs at least one non-navigation ref")
