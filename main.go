// b3configure splits the game executable and writes the ninja build graph,
// the objdiff project file and the permuter settings for the decompilation.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gookit/color"

	"github.com/phobologic/b3configure/internal/buildgraph"
	"github.com/phobologic/b3configure/internal/config"
	"github.com/phobologic/b3configure/internal/model"
	"github.com/phobologic/b3configure/internal/objdiff"
	"github.com/phobologic/b3configure/internal/opcode"
	"github.com/phobologic/b3configure/internal/promote"
	"github.com/phobologic/b3configure/internal/splat"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, color.Danger.Sprintf("error: %v", err))
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("b3configure", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		doClean      bool
		cleanOnly    bool
		skipChecksum bool
		objects      bool
		noLoop       bool
		noSplit      bool
		layoutPath   string
		showVersion  bool
	)

	fs.BoolVar(&doClean, "c", false, "clean build products before configuring")
	fs.BoolVar(&doClean, "clean", false, "clean build products before configuring")
	fs.BoolVar(&cleanOnly, "C", false, "clean build products and exit")
	fs.BoolVar(&cleanOnly, "clean-only", false, "clean build products and exit")
	fs.BoolVar(&skipChecksum, "s", false, "skip the checksum step")
	fs.BoolVar(&skipChecksum, "skip-checksum", false, "skip the checksum step")
	fs.BoolVar(&objects, "objects", false, "build reference and work-in-progress objects for objdiff instead of linking")
	fs.BoolVar(&noLoop, "noloop", false, "keep branch instructions in functions affected by the short loop bug")
	fs.BoolVar(&noLoop, "no-short-loop-workaround", false, "keep branch instructions in functions affected by the short loop bug")
	fs.BoolVar(&noSplit, "no-split", false, "reuse the existing split tree instead of running the splitter")
	fs.StringVar(&layoutPath, "config", "", "segment layout file (default from B3_LAYOUT or config/b3.yaml)")
	fs.BoolVar(&showVersion, "V", false, "show version and exit")
	fs.BoolVar(&showVersion, "version", false, "show version and exit")

	if err := fs.Parse(reorderArgs(args)); err != nil {
		return err
	}

	if showVersion {
		_, _ = fmt.Fprintf(stdout, "b3configure %s\n", version)
		return nil
	}

	root := "."
	if fs.NArg() > 0 {
		root = fs.Arg(0)
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", root)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if layoutPath != "" {
		cfg.LayoutPath = layoutPath
	}

	// The layout names the products a clean removes, but a clean does not
	// need it to exist.
	layout, layoutErr := splat.ReadLayout(inRoot(root, cfg.LayoutPath))
	if layoutErr == nil {
		cfg.UseLayoutBasename(layout.Options.Basename)
	}

	if doClean || cleanOnly {
		if err := clean(root, cfg, stderr); err != nil {
			return err
		}
		if cleanOnly {
			return nil
		}
	}
	if layoutErr != nil {
		return layoutErr
	}

	if !noSplit {
		if err := splat.Split(context.Background(), cfg.SplitCommand, root, cfg.LayoutPath, stdout, stderr); err != nil {
			return err
		}
	}
	asmRoot := inRoot(root, layout.Options.AsmPath)

	// Promote before compiling so the objects see global labels.
	promoter := &promote.Promoter{AsmRoot: asmRoot, Diag: stderr}
	if _, err := promoter.Run(layout.Groups()); err != nil {
		return fmt.Errorf("promoting labels: %w", err)
	}

	opts := buildgraph.NewOptions(cfg)
	opts.SkipChecksum = skipChecksum
	if objects {
		opts.ObjectsOnly = true
		opts.DualObjects = true
		opts.SkipChecksum = true

		collector, err := objdiff.NewCollector(
			inRoot(root, cfg.SourceRoot),
			[]string{layout.Options.AsmPath, layout.Options.SrcPath},
			config.TargetObjDir,
			config.CurrentObjDir,
			stderr,
		)
		if err != nil {
			return err
		}
		opts.Units = collector
	}

	result, err := buildgraph.Compile(layout.LinkEntries(), opts, stderr)
	if err != nil {
		return err
	}
	if err := writeNinja(inRoot(root, config.NinjaFile), cfg, result); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "Wrote %s: %d rules, %d objects\n", config.NinjaFile, len(result.Rules), len(result.Objects))

	if opts.DualObjects {
		relativeSources(root, result.Units)
		if err := objdiff.NewManifest(result.Units).WriteFile(inRoot(root, config.ObjdiffFile)); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(stdout, "Wrote %s: %d units\n", config.ObjdiffFile, len(result.Units))
	}

	if err := writePermuterSettings(inRoot(root, config.PermuterFile), cfg); err != nil {
		return err
	}

	if !noLoop {
		patched, err := opcode.Apply(asmRoot)
		if err != nil {
			return fmt.Errorf("short loop workaround: %w", err)
		}
		if patched.Substitutions > 0 {
			_, _ = fmt.Fprintf(stderr, "Replaced %d branches with opcodes in %d files\n", patched.Substitutions, len(patched.Files))
		}
	}

	return nil
}

func writeNinja(path string, cfg *config.Config, result *buildgraph.Result) error {
	var buf bytes.Buffer
	if err := buildgraph.Write(&buf, buildgraph.NinjaRules(cfg), result); err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// relativeSources rewrites source paths relative to the project root, the
// directory objdiff is run from.
func relativeSources(root string, records []model.UnitRecord) {
	for i, r := range records {
		if r.SourcePath == "" {
			continue
		}
		if rel, err := filepath.Rel(root, filepath.FromSlash(r.SourcePath)); err == nil {
			records[i].SourcePath = filepath.ToSlash(rel)
		}
	}
}

func inRoot(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// flagsWithValue lists flags that take a value argument.
var flagsWithValue = map[string]bool{
	"-config": true, "--config": true,
}

// reorderArgs moves positional arguments after all flags so Go's flag package
// can parse them correctly (it stops at the first non-flag arg).
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if args[i] == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if len(args[i]) > 0 && args[i][0] == '-' {
			flags = append(flags, args[i])
			if flagsWithValue[args[i]] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}
