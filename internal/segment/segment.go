// Package segment maps splitter segment kinds to build actions.
package segment

import (
	"errors"
	"fmt"

	"github.com/phobologic/b3configure/internal/model"
)

// ErrUnsupportedSegment is wrapped by every UnsupportedSegmentError.
var ErrUnsupportedSegment = errors.New("unsupported build segment type")

// UnsupportedSegmentError reports a segment kind the build graph cannot handle.
type UnsupportedSegmentError struct {
	Kind model.SegmentKind
	Name string
}

func (e *UnsupportedSegmentError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%v %q", ErrUnsupportedSegment, e.Kind)
	}
	return fmt.Sprintf("%v %q (segment %s)", ErrUnsupportedSegment, e.Kind, e.Name)
}

func (e *UnsupportedSegmentError) Unwrap() error {
	return ErrUnsupportedSegment
}

// Action is what the build graph does with a link entry.
type Action int

const (
	Skip Action = iota
	Assemble
	Compile
	PassThroughBinary
)

func (a Action) String() string {
	switch a {
	case Skip:
		return "skip"
	case Assemble:
		return "assemble"
	case Compile:
		return "compile"
	case PassThroughBinary:
		return "pass-through-binary"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Rule returns the ninja rule that builds objects for the action.
// Binary blobs go through the assembler via an incbin stub.
func (a Action) Rule() model.Action {
	if a == Compile {
		return model.Compile
	}
	return model.Assemble
}

// Classify returns the build action for a link entry.
func Classify(entry model.LinkEntry) (Action, error) {
	if entry.Kind.IsMarker() || entry.ObjectPath == "" {
		return Skip, nil
	}
	return ForKind(entry.Kind, entry.Name)
}

// ForKind classifies a bare segment kind. name is only used in errors.
func ForKind(kind model.SegmentKind, name string) (Action, error) {
	if kind.IsMarker() {
		return Skip, nil
	}
	switch kind {
	case model.KindAsm, model.KindHasm, model.KindHeader,
		model.KindData, model.KindRodata, model.KindBss,
		model.KindSdata, model.KindSbss:
		return Assemble, nil
	case model.KindC, model.KindCpp:
		return Compile, nil
	case model.KindBin, model.KindDatabin, model.KindRodatabin, model.KindTextbin:
		return PassThroughBinary, nil
	}
	return Skip, &UnsupportedSegmentError{Kind: kind, Name: name}
}
