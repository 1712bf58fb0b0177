package campaign

import (
	"errors"
	"time"
)

// ErrNoOutput is returned when editing or reverting a step that has no
// recorded output.
var ErrNoOutput = errors.New("step has no recorded output")

// ErrNothingToRevert is returned when reverting an output that was never
// manually edited.
var ErrNothingToRevert = errors.New("output has no preserved original")

// editedBefore reports whether a manual edit already preserved the
// machine-generated original. Keyed on the state enum, not on
// OriginalOutput content: a legitimately empty machine output is still
// revertable after an edit.
func editedBefore(out StepOutput) bool {
	switch out.EffectiveState() {
	case StateEdited, StateReverted:
		return true
	}
	return false
}

// ApplyEdit records a manual edit of a step output. The first edit
// preserves the last machine-generated value in OriginalOutput; later
// edits never touch it, so revert stays available forever after.
func ApplyEdit(out StepOutput, newText string, now time.Time) (StepOutput, error) {
	if out.Output == "" && out.CompletedAt.IsZero() {
		return StepOutput{}, ErrNoOutput
	}
	if !editedBefore(out) {
		out.OriginalOutput = out.Output
	}
	out.Output = newText
	out.State = StateEdited
	out.EditedAt = &now
	return out, nil
}

// Revert restores the last machine-generated output exactly. Only valid
// once a manual edit has preserved an original.
func Revert(out StepOutput, now time.Time) (StepOutput, error) {
	if out.Output == "" && out.CompletedAt.IsZero() {
		return StepOutput{}, ErrNoOutput
	}
	if !editedBefore(out) {
		return StepOutput{}, ErrNothingToRevert
	}
	out.Output = out.OriginalOutput
	out.State = StateReverted
	out.EditedAt = &now
	return out, nil
}
