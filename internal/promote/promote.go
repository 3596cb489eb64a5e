// Package promote turns local labels that are referenced across assembly
// files of one link unit into global labels.
package promote

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/phobologic/b3configure/internal/discover"
	"github.com/phobologic/b3configure/internal/model"
)

var (
	labelDef = regexp.MustCompile(`(?m)^[ \t]*(\.L[0-9A-F]{8}):`)
	labelRef = regexp.MustCompile(`\.L[0-9A-F]{8}\b`)
)

// File is an immutable snapshot of one assembly file.
type File struct {
	Path    string
	Content string
}

// Definitions maps a local label to the file that defines it.
type Definitions map[string]string

// Report describes what happened to one group.
type Report struct {
	Group     string
	Files     []string
	Missing   []string // Segments with no assembly on disk
	Promoted  []model.LocalSymbol
	Rewritten []string
}

// Promoter runs label promotion over groups of segments under AsmRoot.
type Promoter struct {
	AsmRoot string
	Diag    io.Writer
}

// Run processes every group independently. Missing segments and groups with
// nothing to do are reported and skipped; I/O errors abort.
func (p *Promoter) Run(groups []model.SymbolGroup) ([]Report, error) {
	_, _ = fmt.Fprintln(p.Diag, "Checking for local labels to promote...")
	if len(groups) == 0 {
		_, _ = fmt.Fprintln(p.Diag, "No label groups found.")
		return nil, nil
	}

	var reports []Report
	for _, g := range groups {
		r, err := p.runGroup(g)
		if err != nil {
			return reports, fmt.Errorf("group %s: %w", g.Name, err)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func (p *Promoter) runGroup(g model.SymbolGroup) (Report, error) {
	_, _ = fmt.Fprintf(p.Diag, "Processing group '%s'...\n", g.Name)
	report := Report{Group: g.Name}

	paths, missing, err := p.Resolve(g)
	if err != nil {
		return report, err
	}
	report.Files = paths
	report.Missing = missing
	for _, seg := range missing {
		_, _ = fmt.Fprintf(p.Diag, "  Warning: Could not find asm directory or file for segment '%s'\n", seg)
	}

	_, _ = fmt.Fprintf(p.Diag, "  Total assembly files found: %d\n", len(paths))
	if len(paths) == 0 {
		_, _ = fmt.Fprintf(p.Diag, "No assembly files found for group '%s'. Skipping.\n", g.Name)
		return report, nil
	}

	files, err := load(paths)
	if err != nil {
		return report, err
	}

	defs, dups := collectDefinitions(files)
	for _, d := range dups {
		_, _ = fmt.Fprintf(p.Diag, "  Warning: %s defined in %s and %s, using %s\n", d.Name, d.Definer, d.Referrers[0], d.Definer)
	}

	promoted := collectCrossReferences(files, defs)
	report.Promoted = promoted
	if len(promoted) == 0 {
		_, _ = fmt.Fprintf(p.Diag, "No cross-file local labels found in group '%s'.\n", g.Name)
		return report, nil
	}

	names := lo.Map(promoted, func(s model.LocalSymbol, _ int) string { return s.Name })
	_, _ = fmt.Fprintf(p.Diag, "Promoting %d labels: %s...\n", len(names), strings.Join(names, ", "))

	for _, f := range files {
		updated := rewrite(f.Content, names)
		if updated == f.Content {
			continue
		}
		if err := writeFile(f.Path, updated); err != nil {
			return report, err
		}
		report.Rewritten = append(report.Rewritten, f.Path)
	}
	return report, nil
}

// Resolve locates the assembly of every segment in the group. Each segment
// is looked up as <root>/nonmatchings/<seg>/, then <root>/<seg>/, then
// <root>/<seg>.s; the first hit wins.
func (p *Promoter) Resolve(g model.SymbolGroup) (files, missing []string, err error) {
	for _, seg := range g.Segments {
		nonmatching := filepath.Join(p.AsmRoot, "nonmatchings", seg)
		direct := filepath.Join(p.AsmRoot, seg)
		single := filepath.Join(p.AsmRoot, seg+".s")

		var found []string
		switch {
		case isDir(nonmatching):
			_, _ = fmt.Fprintf(p.Diag, "  Found asm directory: %s\n", nonmatching)
			found, err = discover.AsmFiles(nonmatching)
		case isDir(direct):
			_, _ = fmt.Fprintf(p.Diag, "  Found asm directory: %s\n", direct)
			found, err = discover.AsmFiles(direct)
		case isFile(single):
			_, _ = fmt.Fprintf(p.Diag, "  Found asm file: %s\n", single)
			found = []string{single}
		default:
			missing = append(missing, seg)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("listing %s: %w", seg, err)
		}
		files = append(files, found...)
	}
	return lo.Uniq(files), missing, nil
}

// collectDefinitions records the defining file of every local label. When a
// label is defined in several files the first one in file order wins; the
// conflicts are returned with the winner as Definer and the loser as the
// only Referrer.
func collectDefinitions(files []File) (Definitions, []model.LocalSymbol) {
	defs := make(Definitions)
	var dups []model.LocalSymbol
	for _, f := range files {
		for _, m := range labelDef.FindAllStringSubmatch(f.Content, -1) {
			label := m[1]
			if first, ok := defs[label]; ok {
				if first != f.Path {
					dups = append(dups, model.LocalSymbol{Name: label, Definer: first, Referrers: []string{f.Path}})
				}
				continue
			}
			defs[label] = f.Path
		}
	}
	return defs, dups
}

// collectCrossReferences returns the labels referenced from a file other
// than their definer, sorted by name, with the referring files in file order.
func collectCrossReferences(files []File, defs Definitions) []model.LocalSymbol {
	referrers := make(map[string][]string)
	for _, f := range files {
		for _, label := range lo.Uniq(labelRef.FindAllString(f.Content, -1)) {
			definer, ok := defs[label]
			if !ok || definer == f.Path {
				continue
			}
			referrers[label] = append(referrers[label], f.Path)
		}
	}

	labels := lo.Keys(referrers)
	sort.Strings(labels)

	symbols := make([]model.LocalSymbol, 0, len(labels))
	for _, label := range labels {
		symbols = append(symbols, model.LocalSymbol{
			Name:      label,
			Definer:   defs[label],
			Referrers: referrers[label],
		})
	}
	return symbols
}

// rewrite promotes each label in content: its definition line becomes a
// glabel declaration and every reference loses the local ".".
func rewrite(content string, labels []string) string {
	promoted := lo.SliceToMap(labels, func(l string) (string, bool) { return l, true })
	content = labelDef.ReplaceAllStringFunc(content, func(line string) string {
		label := strings.TrimSpace(strings.TrimSuffix(line, ":"))
		if !promoted[label] {
			return line
		}
		return "glabel " + strings.TrimPrefix(label, ".")
	})
	return labelRef.ReplaceAllStringFunc(content, func(label string) string {
		if !promoted[label] {
			return label
		}
		return strings.TrimPrefix(label, ".")
	})
}

func load(paths []string) ([]File, error) {
	files := make([]File, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		files = append(files, File{Path: path, Content: string(data)})
	}
	return files, nil
}

func writeFile(path, content string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), info.Mode().Perm()); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
