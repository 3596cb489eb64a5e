// Package objdiff derives per-unit metadata for the objdiff diff viewer and
// writes its objdiff.json project file.
package objdiff

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/b3configure/internal/discover"
	"github.com/phobologic/b3configure/internal/lang"
	"github.com/phobologic/b3configure/internal/model"
	"github.com/phobologic/b3configure/internal/parse"
)

const schemaURL = "https://raw.githubusercontent.com/encounter/objdiff/main/config.schema.json"

// Category is a progress category shown by objdiff.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Categories lists the known progress categories in display order.
var Categories = []Category{
	{ID: "P2", Name: "Engine"},
	{ID: "splice", Name: "Splice"},
	{ID: "ps2t", Name: "Tooling"},
	{ID: "sce", Name: "Libs"},
	{ID: "data", Name: "Data"},
}

// WatchPatterns are the files objdiff watches to trigger rebuilds.
var WatchPatterns = []string{
	"src/**/*.c",
	"src/**/*.cp",
	"src/**/*.cpp",
	"src/**/*.cxx",
	"src/**/*.h",
	"src/**/*.hp",
	"src/**/*.hpp",
	"src/**/*.hxx",
	"src/**/*.s",
	"src/**/*.S",
	"src/**/*.asm",
	"src/**/*.inc",
	"src/**/*.py",
	"src/**/*.yml",
	"src/**/*.txt",
	"src/**/*.json",
}

// Manifest is the objdiff.json project file.
type Manifest struct {
	Schema             string     `json:"$schema"`
	CustomMake         string     `json:"custom_make"`
	CustomArgs         []string   `json:"custom_args"`
	BuildTarget        bool       `json:"build_target"`
	BuildBase          bool       `json:"build_base"`
	WatchPatterns      []string   `json:"watch_patterns"`
	Units              []Unit     `json:"units"`
	ProgressCategories []Category `json:"progress_categories"`
}

// Unit is one entry of the manifest's units list.
type Unit struct {
	Name       string       `json:"name"`
	TargetPath string       `json:"target_path"`
	BasePath   string       `json:"base_path,omitempty"`
	Metadata   UnitMetadata `json:"metadata"`
}

// UnitMetadata holds the per-unit metadata block.
type UnitMetadata struct {
	ProgressCategories []string `json:"progress_categories"`
	SourcePath         string   `json:"source_path,omitempty"`
	Complete           *bool    `json:"complete,omitempty"`
}

// NewManifest wraps unit records in a manifest that rebuilds only the base objects.
func NewManifest(records []model.UnitRecord) *Manifest {
	units := make([]Unit, 0, len(records))
	for _, r := range records {
		u := Unit{
			Name:       r.Name,
			TargetPath: r.TargetPath,
			BasePath:   r.BasePath,
			Metadata: UnitMetadata{
				ProgressCategories: r.Categories,
				SourcePath:         r.SourcePath,
			},
		}
		if r.SourcePath != "" {
			complete := r.Complete
			u.Metadata.Complete = &complete
		}
		units = append(units, u)
	}

	return &Manifest{
		Schema:             schemaURL,
		CustomMake:         "ninja",
		CustomArgs:         []string{},
		BuildTarget:        false,
		BuildBase:          true,
		WatchPatterns:      WatchPatterns,
		Units:              units,
		ProgressCategories: Categories,
	}
}

// Encode writes the manifest as indented JSON.
func (m *Manifest) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(m)
}

// WriteFile writes the manifest to path.
func (m *Manifest) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := m.Encode(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// Collector turns reference-variant build rules into unit records.
type Collector struct {
	SourceRoot  string   // Tree searched for hand-written units
	StripRoots  []string // Leading path segments dropped from unit names
	TargetRoot  string
	CurrentRoot string

	sources map[string][]discover.FileEntry
	parsers map[string]*parserPair
	diag    io.Writer
}

type parserPair struct {
	lang   *lang.Language
	parser *sitter.Parser
	query  *sitter.Query
}

// NewCollector indexes the hand-written sources under sourceRoot.
func NewCollector(sourceRoot string, stripRoots []string, targetRoot, currentRoot string, diag io.Writer) (*Collector, error) {
	files, err := discover.Files(sourceRoot, nil)
	if err != nil {
		return nil, fmt.Errorf("discovering sources: %w", err)
	}
	return &Collector{
		SourceRoot:  sourceRoot,
		StripRoots:  stripRoots,
		TargetRoot:  targetRoot,
		CurrentRoot: currentRoot,
		sources:     discover.ByStem(files),
		parsers:     make(map[string]*parserPair),
		diag:        diag,
	}, nil
}

// Units returns a record for every rule, in rule order.
func (c *Collector) Units(rules []model.BuildRule) ([]model.UnitRecord, error) {
	var records []model.UnitRecord
	for _, r := range rules {
		if len(r.Outputs) == 0 {
			continue
		}
		rec, err := c.unit(r)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Collector) unit(r model.BuildRule) (model.UnitRecord, error) {
	target := r.Outputs[0]
	name := strings.TrimSuffix(path.Base(target), path.Ext(target))
	if len(r.Inputs) > 0 {
		name = UnitName(r.Inputs[0], c.StripRoots)
	}

	rec := model.UnitRecord{
		Name:       name,
		TargetPath: target,
		Categories: CategoriesFor(name),
	}

	candidates := c.sources[path.Base(name)]
	if len(candidates) == 0 {
		return rec, nil
	}
	src := candidates[0]
	if len(candidates) > 1 {
		_, _ = fmt.Fprintf(c.diag, "Warning: %s: %d hand-written sources, using %s\n", name, len(candidates), src.Path)
	}

	rec.BasePath = c.currentPath(target)
	rec.SourcePath = filepath.ToSlash(filepath.Join(c.SourceRoot, src.Path))

	unit, err := c.scan(src)
	if err != nil {
		return model.UnitRecord{}, err
	}
	rec.Complete = parse.Complete(unit)
	for _, fn := range lo.Intersect(unit.Functions, unit.IncludeAsm) {
		_, _ = fmt.Fprintf(c.diag, "Warning: %s: %s is defined in C and still included as assembly\n", src.Path, fn)
	}
	return rec, nil
}

// currentPath swaps the reference root of target for the work-in-progress root.
func (c *Collector) currentPath(target string) string {
	if rest, ok := strings.CutPrefix(target, c.TargetRoot+"/"); ok {
		return path.Join(c.CurrentRoot, rest)
	}
	return target
}

func (c *Collector) scan(f discover.FileEntry) (model.SourceUnit, error) {
	pp, ok := c.parsers[f.Language]
	if !ok {
		l := lang.Languages[f.Language]
		q, err := l.GetScanQuery()
		if err != nil {
			return model.SourceUnit{}, fmt.Errorf("scan query for %s: %w", f.Language, err)
		}
		pp = &parserPair{lang: l, parser: l.NewParser(), query: q}
		c.parsers[f.Language] = pp
	}

	source, err := os.ReadFile(filepath.Join(c.SourceRoot, f.Path))
	if err != nil {
		return model.SourceUnit{}, fmt.Errorf("reading %s: %w", f.Path, err)
	}
	return parse.ScanUnit(pp.lang, pp.parser, pp.query, source, f.Path), nil
}

// UnitName derives a unit's logical name from its first input: a leading
// root segment from roots is dropped and the extension removed.
func UnitName(input string, roots []string) string {
	p := filepath.ToSlash(input)
	for _, root := range roots {
		if rest, ok := strings.CutPrefix(p, strings.TrimSuffix(root, "/")+"/"); ok {
			p = rest
			break
		}
	}
	return strings.TrimSuffix(p, path.Ext(p))
}

// CategoriesFor returns the progress categories for a unit name.
func CategoriesFor(name string) []string {
	cats := []string{strings.SplitN(name, "/", 2)[0]}
	switch {
	case strings.Contains(name, "P2/splice/"):
		cats = append(cats, "splice")
	case strings.Contains(name, "P2/ps2t"):
		cats = append(cats, "ps2t")
	}
	return cats
}
