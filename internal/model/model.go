// Package model defines core data structures for b3configure.
package model

// SegmentKind is the splitter's type string for a segment.
type SegmentKind string

const (
	KindAsm       SegmentKind = "asm"
	KindHasm      SegmentKind = "hasm"
	KindHeader    SegmentKind = "header"
	KindData      SegmentKind = "data"
	KindRodata    SegmentKind = "rodata"
	KindBss       SegmentKind = "bss"
	KindSdata     SegmentKind = "sdata"
	KindSbss      SegmentKind = "sbss"
	KindC         SegmentKind = "c"
	KindCpp       SegmentKind = "cpp"
	KindBin       SegmentKind = "bin"
	KindDatabin   SegmentKind = "databin"
	KindRodatabin SegmentKind = "rodatabin"
	KindTextbin   SegmentKind = "textbin"
)

// IsMarker reports whether the kind is a metadata-only marker such as ".rodata".
func (k SegmentKind) IsMarker() bool {
	return len(k) > 0 && k[0] == '.'
}

// LinkEntry is the splitter's description of one segment's build inputs and output.
type LinkEntry struct {
	Kind       SegmentKind
	Name       string
	SrcPaths   []string
	ObjectPath string // Empty means nothing is built for this entry
}

// Action names the ninja rule a BuildRule runs.
type Action string

const (
	Assemble Action = "as"
	Compile  Action = "cc"
	Link     Action = "ld"
	Extract  Action = "elf"
	Verify   Action = "sha1sum"
)

// Variant tags object rules produced in dual-object mode.
type Variant string

const (
	VariantNone    Variant = ""
	VariantTarget  Variant = "target"
	VariantCurrent Variant = "current"
)

// BuildRule is one build statement in the generated graph.
type BuildRule struct {
	Outputs         []string
	Action          Action
	Inputs          []string
	Implicit        []string
	Variables       map[string]string
	ImplicitOutputs []string
	Variant         Variant
}

// UnitRecord describes one compiled unit for the diff visualizer.
type UnitRecord struct {
	Name       string
	TargetPath string
	Categories []string
	BasePath   string // Empty when no hand-written source exists
	SourcePath string
	Complete   bool
}

// SymbolGroup is a set of assembly segments that share one link unit.
type SymbolGroup struct {
	Name     string
	Segments []string
}

// LocalSymbol is a local label and the files that use it.
type LocalSymbol struct {
	Name      string
	Definer   string
	Referrers []string
}

// SourceUnit holds what was found in a hand-written C/C++ source file.
type SourceUnit struct {
	Path       string
	Language   string
	Functions  []string // Functions defined in C
	IncludeAsm []string // Functions still pulled in as assembly
}
