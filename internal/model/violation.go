package model

import (
	"fmt"

	language "github.com/hanpama/computed/internal/language"
)

type Violation struct {
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"positionStart,omitempty"`
	Column  int    `json:"positionEnd,omitempty"`
}

// ValidationError carries every configuration problem found while building a
// model or finalizing an engine.
type ValidationError []*Violation

func (e ValidationError) Error() string {
	msg := "violations found:\n"
	for _, v := range e {
		line := "- " + v.Message
		if v.File != "" {
			line += fmt.Sprintf(" %s:%d:%d", v.File, v.Line, v.Column)
		}
		msg += line + "\n"
	}
	return msg
}

// NewViolation creates a violation without a source position.
func NewViolation(format string, args ...any) *Violation {
	return &Violation{Message: fmt.Sprintf(format, args...)}
}

func violationWithPosition(message string, pos *language.Position) *Violation {
	if pos == nil {
		return &Violation{Message: message}
	}
	v := &Violation{Message: message, Line: pos.Line, Column: pos.Column}
	if pos.Src != nil {
		v.File = pos.Src.Name
	}
	return v
}
