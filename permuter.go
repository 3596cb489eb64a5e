package main

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/phobologic/b3configure/internal/config"
)

// permuterSettings is the decomp-permuter settings file.
type permuterSettings struct {
	CompilerCommand  string            `toml:"compiler_command"`
	AssemblerCommand string            `toml:"assembler_command"`
	CompilerType     string            `toml:"compiler_type"`
	PreserveMacros   map[string]string `toml:"preserve_macros"`
	Decompme         decompmeSettings  `toml:"decompme"`
}

type decompmeSettings struct {
	Compilers map[string]string `toml:"compilers"`
}

func newPermuterSettings(cfg *config.Config) permuterSettings {
	return permuterSettings{
		CompilerCommand:  cfg.CompileCommand() + " -D__GNUC__",
		AssemblerCommand: cfg.PermuterAssembler(),
		CompilerType:     "gcc",
		PreserveMacros:   map[string]string{},
		Decompme: decompmeSettings{
			Compilers: map[string]string{"tools/build/cc/gcc/gcc": "ee-gcc2.96"},
		},
	}
}

func writePermuterSettings(path string, cfg *config.Config) error {
	data, err := toml.Marshal(newPermuterSettings(cfg))
	if err != nil {
		return fmt.Errorf("encoding permuter settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
