package splat

import (
	"path"
	"strings"

	"github.com/phobologic/b3configure/internal/model"
)

// containerTypes hold subsegments and produce no link entry of their own.
var containerTypes = map[string]struct{}{
	"code":  {},
	"group": {},
}

// objectlessTypes only move the link cursor; the splitter writes no file
// and no object for them.
var objectlessTypes = map[string]struct{}{
	"linker_offset": {},
	"pad":           {},
}

// LinkEntries returns the link entries the splitter writes for the layout,
// in layout order. Entry names carry the segment's dir option, so a
// [0x100, asm, jt] subsegment of a segment with dir P2 is named P2/jt.
func (l *Layout) LinkEntries() []model.LinkEntry {
	var entries []model.LinkEntry
	for _, seg := range l.Segments {
		if len(seg.Subsegments) == 0 {
			if _, ok := containerTypes[seg.Type]; ok {
				continue
			}
			entries = append(entries, l.entryFor(seg.Type, path.Join(seg.Dir(), seg.Name)))
			continue
		}
		for _, sub := range seg.Subsegments {
			entries = append(entries, l.entryFor(sub.Type, subsegmentName(seg, sub)))
		}
	}
	return entries
}

func subsegmentName(seg Segment, sub Subsegment) string {
	return path.Join(seg.Dir(), sub.Dir(), sub.Name)
}

func (l *Layout) entryFor(typ, name string) model.LinkEntry {
	kind := model.SegmentKind(typ)
	e := model.LinkEntry{Kind: kind, Name: name}
	if kind.IsMarker() {
		return e
	}
	if _, ok := objectlessTypes[typ]; ok {
		return e
	}

	var src string
	switch kind {
	case model.KindAsm, model.KindHasm, model.KindHeader:
		src = path.Join(l.Options.AsmPath, name+".s")
	case model.KindC:
		src = path.Join(l.Options.SrcPath, name+".c")
	case model.KindCpp:
		src = path.Join(l.Options.SrcPath, name+".cpp")
	case model.KindBin:
		src = path.Join(l.Options.AssetPath, name+".bin")
	default:
		src = path.Join(l.Options.AsmPath, "data", name+"."+typ+".s")
	}

	e.SrcPaths = []string{src}
	if l.Options.UseOAsSuffix {
		e.ObjectPath = path.Join(l.Options.BuildPath, strings.TrimSuffix(src, path.Ext(src))+".o")
	} else {
		e.ObjectPath = path.Join(l.Options.BuildPath, src+".o")
	}
	return e
}

// Groups returns the symbol groups declared on asm subsegments, in
// first-declaration order.
func (l *Layout) Groups() []model.SymbolGroup {
	var groups []model.SymbolGroup
	index := make(map[string]int)
	for _, seg := range l.Segments {
		for _, sub := range seg.Subsegments {
			g := sub.Group()
			if g == "" || sub.Type != string(model.KindAsm) {
				continue
			}
			i, ok := index[g]
			if !ok {
				i = len(groups)
				index[g] = i
				groups = append(groups, model.SymbolGroup{Name: g})
			}
			groups[i].Segments = append(groups[i].Segments, subsegmentName(seg, sub))
		}
	}
	return groups
}
