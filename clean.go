package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/phobologic/b3configure/internal/config"
)

// cleanDirs are the generated trees removed by a clean.
var cleanDirs = []string{"asm", "assets", "obj", config.OutDir}

// cleanFiles returns the generated files removed by a clean.
func cleanFiles(cfg *config.Config) []string {
	return []string{
		".splache",
		".ninja_log",
		config.NinjaFile,
		config.PermuterFile,
		config.ObjdiffFile,
		cfg.LinkerScript(),
	}
}

// clean removes every build product under root. Missing products are ignored.
func clean(root string, cfg *config.Config, stderr io.Writer) error {
	for _, name := range cleanFiles(cfg) {
		err := os.Remove(filepath.Join(root, name))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", name, err)
		}
	}
	for _, dir := range cleanDirs {
		if err := os.RemoveAll(filepath.Join(root, dir)); err != nil {
			return fmt.Errorf("removing %s: %w", dir, err)
		}
	}
	_, _ = fmt.Fprintln(stderr, "Cleaned build products")
	return nil
}
