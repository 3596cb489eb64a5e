// Package buildgraph compiles link entries into a deduplicated build-rule graph.
package buildgraph

import (
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/phobologic/b3configure/internal/model"
	"github.com/phobologic/b3configure/internal/segment"
)

// ErrDualRequiresObjectsOnly is returned when dual objects are requested
// together with a link stage; both variants would be linked into one image.
var ErrDualRequiresObjectsOnly = errors.New("dual objects require objects-only mode")

// Options selects the build mode and names the link stage files.
type Options struct {
	SkipChecksum bool
	ObjectsOnly  bool
	DualObjects  bool

	TargetRoot  string // Flat output root for reference objects
	CurrentRoot string // Flat output root for work-in-progress objects
	SkipAsmFlag string // Extra cflags for work-in-progress objects

	LinkerScript string
	PreElfPath   string
	ElfPath      string
	MapPath      string
	ChecksumPath string

	// Units describes the reference objects in dual mode. Nil leaves
	// Result.Units empty.
	Units UnitCollector
}

// UnitCollector turns reference-variant rules into unit records.
type UnitCollector interface {
	Units(rules []model.BuildRule) ([]model.UnitRecord, error)
}

// Result is the compiled graph.
type Result struct {
	Rules      []model.BuildRule
	Objects    []string // Every object output, sorted and unique
	Duplicates int      // Object declarations dropped because the output was already declared
	Units      []model.UnitRecord
}

// TargetRules returns the rules tagged for unit metadata collection.
func (r *Result) TargetRules() []model.BuildRule {
	return lo.Filter(r.Rules, func(rule model.BuildRule, _ int) bool {
		return rule.Variant == model.VariantTarget
	})
}

type compiler struct {
	opts     Options
	diag     io.Writer
	rules    []model.BuildRule
	declared map[string]struct{}
	objects  map[string]struct{}
	dups     int
}

// Compile turns link entries into build rules. Diagnostics are written to diag.
// An unsupported segment kind aborts compilation.
func Compile(entries []model.LinkEntry, opts Options, diag io.Writer) (*Result, error) {
	if opts.DualObjects && !opts.ObjectsOnly {
		return nil, ErrDualRequiresObjectsOnly
	}

	c := &compiler{
		opts:     opts,
		diag:     diag,
		declared: make(map[string]struct{}),
		objects:  make(map[string]struct{}),
	}

	for _, entry := range entries {
		action, err := segment.Classify(entry)
		if err != nil {
			return nil, err
		}
		if action == segment.Skip {
			continue
		}
		c.object(entry, action)
	}

	objects := lo.Keys(c.objects)
	sort.Strings(objects)

	if !opts.ObjectsOnly {
		c.linkStage(objects)
	}

	res := &Result{Rules: c.rules, Objects: objects, Duplicates: c.dups}
	if opts.DualObjects && opts.Units != nil {
		units, err := opts.Units.Units(res.TargetRules())
		if err != nil {
			return nil, fmt.Errorf("collecting units: %w", err)
		}
		res.Units = units
	}
	return res, nil
}

func (c *compiler) object(entry model.LinkEntry, action segment.Action) {
	rule := action.Rule()
	if !c.opts.DualObjects {
		c.declare(model.BuildRule{
			Outputs: []string{entry.ObjectPath},
			Action:  rule,
			Inputs:  entry.SrcPaths,
		})
		return
	}

	c.declare(model.BuildRule{
		Outputs: []string{FlatObjectPath(entry.ObjectPath, c.opts.TargetRoot)},
		Action:  rule,
		Inputs:  entry.SrcPaths,
		Variant: model.VariantTarget,
	})
	c.declare(model.BuildRule{
		Outputs:   []string{FlatObjectPath(entry.ObjectPath, c.opts.CurrentRoot)},
		Action:    rule,
		Inputs:    entry.SrcPaths,
		Variables: map[string]string{"cflags": c.opts.SkipAsmFlag},
		Variant:   model.VariantCurrent,
	})
}

// declare adds rule unless one of its outputs is already declared.
// Object outputs are tracked either way.
func (c *compiler) declare(rule model.BuildRule) {
	for _, out := range rule.Outputs {
		if path.Ext(out) == ".o" {
			c.objects[out] = struct{}{}
		}
	}
	for _, out := range rule.Outputs {
		if _, dup := c.declared[out]; dup {
			c.dups++
			_, _ = fmt.Fprintf(c.diag, "Warning: %s: already declared, skipping duplicate from %s\n",
				out, strings.Join(rule.Inputs, " "))
			return
		}
	}
	for _, out := range rule.Outputs {
		c.declared[out] = struct{}{}
	}
	c.rules = append(c.rules, rule)
}

func (c *compiler) linkStage(objects []string) {
	c.declare(model.BuildRule{
		Outputs:         []string{c.opts.PreElfPath},
		Action:          model.Link,
		Inputs:          []string{c.opts.LinkerScript},
		Implicit:        objects,
		ImplicitOutputs: []string{c.opts.MapPath},
		Variables:       map[string]string{"mapfile": c.opts.MapPath},
	})
	c.declare(model.BuildRule{
		Outputs: []string{c.opts.ElfPath},
		Action:  model.Extract,
		Inputs:  []string{c.opts.PreElfPath},
	})

	if c.opts.SkipChecksum {
		_, _ = fmt.Fprintln(c.diag, "Skipping checksum step")
		return
	}
	c.declare(model.BuildRule{
		Outputs:  []string{c.opts.ElfPath + ".ok"},
		Action:   model.Verify,
		Inputs:   []string{c.opts.ChecksumPath},
		Implicit: []string{c.opts.ElfPath},
	})
}

// sourceSuffixes are origin-kind suffixes an object name may carry before ".o".
var sourceSuffixes = map[string]struct{}{
	".s":   {},
	".c":   {},
	".cpp": {},
}

// FlatObjectPath places obj directly under root, dropping its directory and
// a doubled origin suffix: "build/asm/P2/jt.s.o" becomes "<root>/jt.o".
func FlatObjectPath(obj, root string) string {
	base := path.Base(obj)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	if ext == ".o" {
		if inner := path.Ext(stem); inner != "" {
			if _, ok := sourceSuffixes[inner]; ok {
				stem = strings.TrimSuffix(stem, inner)
			}
		}
	}
	return path.Join(root, stem+".o")
}
