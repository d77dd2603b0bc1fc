// Package artifact validates the three stage-output shapes the cascade
// passes between scout, writer and validator: synchronous, deterministic,
// fail-closed, each violation reported with a dotted field path.
package artifact

import (
	"fmt"
	"strings"
)

// ValidationError names the violated field path.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func fieldErr(path, msg string) error {
	return &ValidationError{Path: path, Message: msg}
}

// PatchOpKind enumerates the writer patch op kinds.
const (
	OpReplace      = "replace"
	OpInsertAfter  = "insert_after"
	OpInsertBefore = "insert_before"
	OpCreateFile   = "create_file"
	OpDeleteFile   = "delete_file"
)

// PatchOp is one operation within a file patch.
type PatchOp struct {
	Kind     string   `json:"kind"`
	OldLines []string `json:"old_lines,omitempty"`
	After    string   `json:"after,omitempty"`
	Before   string   `json:"before,omitempty"`
	Content  string   `json:"content,omitempty"`
}

// Patch is one file's set of ops.
type Patch struct {
	Path string    `json:"path"`
	Ops  []PatchOp `json:"ops"`
}

// WriterPatchPack is the writer stage's output.
type WriterPatchPack struct {
	SliceID             string   `json:"slice_id"`
	Summary             string   `json:"summary"`
	AffectedFiles       []string `json:"affected_files"`
	Patches             []Patch  `json:"patches"`
	ChecksToRun         []string `json:"checks_to_run,omitempty"`
	InsufficientContext string   `json:"insufficient_context,omitempty"`
}

const maxPatchesPerPack = 50
const maxOpsPerPatch = 30
const maxOldLinesPerOp = 200

// ValidateWriterPatchPack validates a writer pack, returning the first
// violated constraint. It does not modify or normalize the pack.
func ValidateWriterPatchPack(p *WriterPatchPack) error {
	if len(p.Patches) == 0 && strings.TrimSpace(p.InsufficientContext) == "" {
		return fieldErr("patches", "empty patches requires non-empty insufficient_context")
	}
	if len(p.Patches) > maxPatchesPerPack {
		return fieldErr("patches", fmt.Sprintf("at most %d patches allowed", maxPatchesPerPack))
	}
	for i, patch := range p.Patches {
		path := fmt.Sprintf("patches[%d]", i)
		if patch.Path == "" {
			return fieldErr(path+".path", "required")
		}
		if strings.Contains(patch.Path, "..") {
			return fieldErr(path+".path", "must not contain '..'")
		}
		if strings.HasPrefix(patch.Path, "/") {
			return fieldErr(path+".path", "must not be absolute")
		}
		if len(patch.Ops) == 0 || len(patch.Ops) > maxOpsPerPatch {
			return fieldErr(path+".ops", fmt.Sprintf("must have 1..%d ops", maxOpsPerPatch))
		}
		for j, op := range patch.Ops {
			opPath := fmt.Sprintf("%s.ops[%d]", path, j)
			switch op.Kind {
			case OpReplace:
				if len(op.OldLines) == 0 || len(op.OldLines) > maxOldLinesPerOp {
					return fieldErr(opPath+".old_lines", fmt.Sprintf("must have 1..%d lines", maxOldLinesPerOp))
				}
			case OpInsertAfter:
				if op.After == "" {
					return fieldErr(opPath+".after", "required")
				}
				if op.Content == "" {
					return fieldErr(opPath+".content", "required")
				}
			case OpInsertBefore:
				if op.Before == "" {
					return fieldErr(opPath+".before", "required")
				}
				if op.Content == "" {
					return fieldErr(opPath+".content", "required")
				}
			case OpCreateFile:
				if op.Content == "" {
					return fieldErr(opPath+".content", "required")
				}
			case OpDeleteFile:
				// no additional shape required
			default:
				return fieldErr(opPath+".kind", "unrecognized op kind: "+op.Kind)
			}
		}
	}
	return nil
}
