// Package config holds project paths and toolchain settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
)

const (
	OutDir        = "out"
	ChecksumPath  = "config/checksum.sha1"
	NinjaFile     = "build.ninja"
	ObjdiffFile   = "objdiff.json"
	PermuterFile  = "permuter_settings.toml"
	TargetObjDir  = "obj/target"
	CurrentObjDir = "obj/current"
	SkipAsmFlag   = "-DSKIP_ASM"

	commonIncludes = "-Iinclude -isystem include/sdk/ee -isystem include/gcc"
)

// Config holds everything the pipeline needs to know about the project.
type Config struct {
	LayoutPath   string   // Segment layout consumed by the splitter
	Basename     string   // Name of the target executable
	ToolsDir     string   // Root of the bundled compiler
	Cross        string   // Binutils prefix
	Wine         string   // Empty when the compiler runs natively
	SplitCommand []string // Splitter invocation; the layout path is appended
	SourceRoot   string

	basenameSet bool // B3_BASENAME was given
}

// Load reads an optional .env file in root and builds a Config from the
// environment. Variables already set take precedence over the file.
func Load(root string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(root, ".env"))
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from an environment lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	wine := firstNonEmpty(get("B3_WINE"), defaultWine())
	if strings.EqualFold(wine, "none") {
		wine = ""
	}

	split := strings.Fields(firstNonEmpty(get("B3_SPLIT_CMD"), "python3 -m splat split"))
	basename := get("B3_BASENAME")

	return &Config{
		LayoutPath:   firstNonEmpty(get("B3_LAYOUT"), "config/b3.yaml"),
		Basename:     firstNonEmpty(basename, "SLUS_210.50"),
		ToolsDir:     firstNonEmpty(get("B3_TOOLS_DIR"), "tools"),
		Cross:        firstNonEmpty(get("B3_CROSS"), "mips-linux-gnu-"),
		Wine:         wine,
		SplitCommand: split,
		SourceRoot:   firstNonEmpty(get("B3_SRC_DIR"), "src"),
		basenameSet:  basename != "",
	}, nil
}

// UseLayoutBasename adopts the basename from the segment layout's options.
// B3_BASENAME still wins when it is set.
func (c *Config) UseLayoutBasename(name string) {
	if c.basenameSet || strings.TrimSpace(name) == "" {
		return
	}
	c.Basename = name
}

func defaultWine() string {
	if runtime.GOOS == "linux" {
		return "wine"
	}
	return "none"
}

// LinkerScript is the splitter-generated linker script.
func (c *Config) LinkerScript() string { return c.Basename + ".ld" }

// ElfPath is the flat binary extracted from the linked image.
func (c *Config) ElfPath() string { return OutDir + "/" + c.Basename }

// PreElfPath is the linked image.
func (c *Config) PreElfPath() string { return c.ElfPath() + ".elf" }

// MapPath is the linker map.
func (c *Config) MapPath() string { return c.ElfPath() + ".map" }

// CompileCommand is the compiler invocation, without output or extra flags.
func (c *Config) CompileCommand() string {
	ccDir := filepath.ToSlash(filepath.Join(c.ToolsDir, "cc", "bin"))
	libDir := filepath.ToSlash(filepath.Join(c.ToolsDir, "cc", "lib", "gcc-lib", "ee", "2.95.2")) + "/"
	cmd := fmt.Sprintf("%s/ee-gcc.exe -c %s -x c++ -B%s -O2 -G0 -ffast-math $in", ccDir, commonIncludes, libDir)
	if c.Wine != "" {
		cmd = c.Wine + " " + cmd
	}
	return cmd
}

// AssembleCommand preprocesses and assembles $in into $out.
func (c *Config) AssembleCommand() string {
	return fmt.Sprintf("cpp %s $in -o  - | %sas -no-pad-sections -EL -march=5900 -mabi=eabi -Iinclude -o $out", commonIncludes, c.Cross)
}

// CompileRuleCommand compiles $in and strips the placeholder symbol from $out.
func (c *Config) CompileRuleCommand() string {
	return fmt.Sprintf("%s $cflags -o $out && %sstrip $out -N dummy-symbol-name", c.CompileCommand(), c.Cross)
}

// LinkCommand links the objects named by the linker script in $in.
func (c *Config) LinkCommand() string {
	return c.Cross + "ld -EL -T config/undefined_syms_auto.txt -T config/undefined_funcs_auto.txt -Map $mapfile -T $in -o $out"
}

// ExtractCommand converts the linked image to a flat binary.
func (c *Config) ExtractCommand() string {
	return c.Cross + "objcopy $in $out -O binary"
}

// VerifyCommand checks the binary against the stored checksum and stamps $out.
func (c *Config) VerifyCommand() string {
	return "sha1sum -c $in && touch $out"
}

// PermuterAssembler is the standalone assembler invocation used by the permuter.
func (c *Config) PermuterAssembler() string {
	return c.Cross + "as -march=r5900 -mabi=eabi -Iinclude"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
