package main

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
)

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readTestFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

const sampleLayout = `name: Sly 3
options:
  basename: SLUS_210.50
  asm_path: asm
  src_path: src
  build_path: build
segments:
  - name: main
    type: code
    start: 0x100
    subsegments:
      - [0x100, asm, P2/jt, {group: jt}]
      - [0x200, asm, P2/jt_helpers, {group: jt}]
      - [0x300, .rodata, P2/jt]
      - [0x400, c, P2/shd]
  - [0x1000]
`

const jtAsm = `glabel UpdateJt
  /* 100 00100100 1440FFFF */  bnez       $v0, .L00100100
  .L00100100:
  /* 104 00100104 00000000 */  nop
endlabel UpdateJt
`

const jtHelpersAsm = `glabel UpdateJtHelper
  /* 200 00100200 1000FFC0 */  b          .L00100100
  /* 204 00100204 00000000 */  nop
endlabel UpdateJtHelper
`

const shadersAsm = `glabel FillShaders__Fi
  .L002F8A04:
  /* 304 002F8A04 FFFF4224 */  addiu      $v0, $v0, -0x1
  /* 308 002F8A08 FEFF4014 */  bnez       $v0, .L002F8A04
  /* 30C 002F8A0C 00000000 */   nop
endlabel FillShaders__Fi
`

// createSampleProject lays out a project as the splitter leaves it.
func createSampleProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTestFile(t, dir, "config/b3.yaml", sampleLayout)
	writeTestFile(t, dir, "asm/nonmatchings/P2/jt/UpdateJt.s", jtAsm)
	writeTestFile(t, dir, "asm/P2/jt_helpers.s", jtHelpersAsm)
	writeTestFile(t, dir, "asm/nonmatchings/P2/shd/FillShaders__Fi.s", shadersAsm)
	writeTestFile(t, dir, "src/P2/shd.c", `#include "common.h"

INCLUDE_ASM("asm/nonmatchings/P2/shd", FillShaders__Fi);
`)
	return dir
}

func TestRunDefault(t *testing.T) {
	t.Parallel()
	dir := createSampleProject(t)

	var stdout, stderr bytes.Buffer
	if err := run([]string{"--no-split", "--config", "config/b3.yaml", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr.String())
	}

	ninja := readTestFile(t, dir, "build.ninja")
	for _, want := range []string{
		"build build/asm/P2/jt.s.o: as asm/P2/jt.s\n",
		"build build/asm/P2/jt_helpers.s.o: as asm/P2/jt_helpers.s\n",
		"build build/src/P2/shd.c.o: cc src/P2/shd.c\n",
		"build out/SLUS_210.50.elf | out/SLUS_210.50.map: ld SLUS_210.50.ld | build/asm/P2/jt.s.o build/asm/P2/jt_helpers.s.o build/src/P2/shd.c.o\n",
		"build out/SLUS_210.50.ok: sha1sum config/checksum.sha1 | out/SLUS_210.50\n",
	} {
		if !strings.Contains(ninja, want) {
			t.Errorf("build.ninja missing %q\n%s", want, ninja)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "objdiff.json")); !os.IsNotExist(err) {
		t.Error("objdiff.json written outside objects mode")
	}
	if !strings.Contains(stdout.String(), "Wrote build.ninja: 6 rules, 3 objects") {
		t.Errorf("stdout = %q", stdout.String())
	}

	jt := readTestFile(t, dir, "asm/nonmatchings/P2/jt/UpdateJt.s")
	helpers := readTestFile(t, dir, "asm/P2/jt_helpers.s")
	if !strings.Contains(jt, "glabel L00100100") || !strings.Contains(helpers, "b          L00100100") {
		t.Errorf("cross-file label not promoted:\n%s\n%s", jt, helpers)
	}

	shaders := readTestFile(t, dir, "asm/nonmatchings/P2/shd/FillShaders__Fi.s")
	if !strings.Contains(shaders, ".word      0x1440FFFE /* bnez       $v0, .L002F8A04 */") {
		t.Errorf("short loop branch not replaced:\n%s", shaders)
	}

	var settings permuterSettings
	if err := toml.Unmarshal([]byte(readTestFile(t, dir, "permuter_settings.toml")), &settings); err != nil {
		t.Fatalf("permuter settings: %v", err)
	}
	if settings.CompilerType != "gcc" || !strings.HasSuffix(settings.CompilerCommand, " -D__GNUC__") {
		t.Errorf("permuter settings = %+v", settings)
	}
	if settings.Decompme.Compilers["tools/build/cc/gcc/gcc"] != "ee-gcc2.96" {
		t.Errorf("decompme compilers = %v", settings.Decompme.Compilers)
	}
}

func TestRunSkipChecksum(t *testing.T) {
	t.Parallel()
	dir := createSampleProject(t)

	var stdout, stderr bytes.Buffer
	if err := run([]string{"-s", "--no-split", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr.String())
	}
	if strings.Contains(readTestFile(t, dir, "build.ninja"), "sha1sum config/checksum.sha1") {
		t.Error("checksum step emitted with -s")
	}
	if !strings.Contains(stderr.String(), "Skipping checksum step") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunObjects(t *testing.T) {
	t.Parallel()
	dir := createSampleProject(t)

	var stdout, stderr bytes.Buffer
	if err := run([]string{dir, "--objects", "--no-split"}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr.String())
	}

	ninja := readTestFile(t, dir, "build.ninja")
	if strings.Contains(ninja, ": ld ") || strings.Contains(ninja, ": sha1sum ") {
		t.Errorf("link stage emitted in objects mode:\n%s", ninja)
	}
	if !strings.Contains(ninja, "build obj/current/shd.o: cc src/P2/shd.c\n  cflags = -DSKIP_ASM\n") {
		t.Errorf("work-in-progress object missing:\n%s", ninja)
	}

	var manifest struct {
		Units []struct {
			Name       string `json:"name"`
			TargetPath string `json:"target_path"`
			BasePath   string `json:"base_path"`
			Metadata   struct {
				SourcePath string `json:"source_path"`
				Complete   *bool  `json:"complete"`
			} `json:"metadata"`
		} `json:"units"`
	}
	if err := json.Unmarshal([]byte(readTestFile(t, dir, "objdiff.json")), &manifest); err != nil {
		t.Fatalf("objdiff.json: %v", err)
	}
	if len(manifest.Units) != 3 {
		t.Fatalf("expected 3 units, got %d", len(manifest.Units))
	}

	shd := manifest.Units[2]
	if shd.Name != "P2/shd" || shd.TargetPath != "obj/target/shd.o" || shd.BasePath != "obj/current/shd.o" {
		t.Errorf("shd unit = %+v", shd)
	}
	if shd.Metadata.SourcePath != "src/P2/shd.c" {
		t.Errorf("shd source path = %q", shd.Metadata.SourcePath)
	}
	if shd.Metadata.Complete == nil || *shd.Metadata.Complete {
		t.Error("shd still includes asm and must not be complete")
	}
	if jt := manifest.Units[0]; jt.Name != "P2/jt" || jt.BasePath != "" {
		t.Errorf("jt unit = %+v", jt)
	}
}

func TestRunNoLoop(t *testing.T) {
	t.Parallel()
	dir := createSampleProject(t)

	var stdout, stderr bytes.Buffer
	if err := run([]string{"-noloop", "--no-split", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr.String())
	}
	if got := readTestFile(t, dir, "asm/nonmatchings/P2/shd/FillShaders__Fi.s"); got != shadersAsm {
		t.Errorf("branches replaced with -noloop:\n%s", got)
	}
}

func TestRunUnsupportedSegment(t *testing.T) {
	t.Parallel()
	dir := createSampleProject(t)
	writeTestFile(t, dir, "config/b3.yaml", strings.Replace(sampleLayout, "[0x400, c, P2/shd]", "[0x400, lib, libsce]", 1))

	var stdout, stderr bytes.Buffer
	err := run([]string{"--no-split", dir}, &stdout, &stderr)
	if err == nil {
		t.Fatal("expected error for unsupported segment kind")
	}
	if !strings.Contains(err.Error(), "lib") {
		t.Errorf("error = %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "build.ninja")); !os.IsNotExist(statErr) {
		t.Error("build.ninja written despite the error")
	}
}

func TestRunLayoutBasename(t *testing.T) {
	t.Parallel()
	dir := createSampleProject(t)
	writeTestFile(t, dir, "config/b3.yaml", strings.Replace(sampleLayout, "basename: SLUS_210.50", "basename: GAME.ELF", 1))
	writeTestFile(t, dir, "GAME.ELF.ld", "x")

	var stdout, stderr bytes.Buffer
	if err := run([]string{"-c", "--no-split", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "GAME.ELF.ld")); !os.IsNotExist(err) {
		t.Error("linker script named by the layout survived clean")
	}
	ninja := readTestFile(t, dir, "build.ninja")
	if !strings.Contains(ninja, "build out/GAME.ELF.elf | out/GAME.ELF.map: ld GAME.ELF.ld | ") {
		t.Errorf("link step does not use the layout basename:\n%s", ninja)
	}
}

func TestRunObjectlessSegments(t *testing.T) {
	t.Parallel()
	dir := createSampleProject(t)
	layout := strings.Replace(sampleLayout, "      - [0x400, c, P2/shd]\n",
		"      - [0x400, c, P2/shd]\n      - [0x500, pad, shd_pad]\n      - [0x600, linker_offset, main_end]\n", 1)
	writeTestFile(t, dir, "config/b3.yaml", layout)

	var stdout, stderr bytes.Buffer
	if err := run([]string{"--no-split", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Wrote build.ninja: 6 rules, 3 objects") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRunCleanOnlyWithoutLayout(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "out/SLUS_210.50", "x")

	var stdout, stderr bytes.Buffer
	if err := run([]string{"-C", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out")); !os.IsNotExist(err) {
		t.Error("out survived clean")
	}
}

func TestRunMissingLayout(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	if err := run([]string{"--no-split", dir}, &stdout, &stderr); err == nil {
		t.Fatal("expected error for missing layout")
	}
}

func TestRunCleanOnly(t *testing.T) {
	t.Parallel()
	dir := createSampleProject(t)
	for _, rel := range []string{".splache", ".ninja_log", "build.ninja", "objdiff.json", "permuter_settings.toml", "SLUS_210.50.ld", "obj/target/jt.o", "out/SLUS_210.50"} {
		writeTestFile(t, dir, rel, "x")
	}

	var stdout, stderr bytes.Buffer
	if err := run([]string{"-C", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, rel := range []string{".splache", ".ninja_log", "build.ninja", "objdiff.json", "permuter_settings.toml", "SLUS_210.50.ld", "asm", "obj", "out"} {
		if _, err := os.Stat(filepath.Join(dir, rel)); !os.IsNotExist(err) {
			t.Errorf("%s survived clean", rel)
		}
	}
	for _, rel := range []string{"config/b3.yaml", "src/P2/shd.c"} {
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			t.Errorf("%s removed by clean: %v", rel, err)
		}
	}

	// Cleaning an already clean tree is fine.
	if err := run([]string{"--clean-only", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("second clean: %v", err)
	}
}

func TestRunCleanThenConfigure(t *testing.T) {
	t.Parallel()
	dir := createSampleProject(t)
	writeTestFile(t, dir, "out/stale.o", "x")

	// The split tree is cleaned away too, so only the layout remains.
	var stdout, stderr bytes.Buffer
	if err := run([]string{"-c", "--no-split", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "out/stale.o")); !os.IsNotExist(err) {
		t.Error("stale output survived clean")
	}
	if _, err := os.Stat(filepath.Join(dir, "build.ninja")); err != nil {
		t.Errorf("build.ninja not written after clean: %v", err)
	}
	if !strings.Contains(stderr.String(), "Could not find asm directory or file for segment 'P2/jt'") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

// Not parallel: sets the splitter command through the environment.
func TestRunSplitter(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}
	t.Setenv("B3_SPLIT_CMD", "true")
	dir := createSampleProject(t)

	var stdout, stderr bytes.Buffer
	if err := run([]string{dir}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr.String())
	}

	t.Setenv("B3_SPLIT_CMD", "false")
	if err := run([]string{dir}, &stdout, &stderr); err == nil {
		t.Fatal("expected error from failing splitter")
	}
}

func TestRunVersion(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	if err := run([]string{"--version"}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "b3configure ") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRunNotADirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "file.txt", "x")

	var stdout, stderr bytes.Buffer
	if err := run([]string{"--no-split", filepath.Join(dir, "file.txt")}, &stdout, &stderr); err == nil {
		t.Fatal("expected error for file root")
	}
}

func TestRunUnknownFlag(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	if err := run([]string{"--bogus"}, &stdout, &stderr); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestReorderArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"flags first", []string{"--config", "b3.yaml", "."}, []string{"--config", "b3.yaml", "."}},
		{"positional first", []string{".", "--config", "b3.yaml"}, []string{"--config", "b3.yaml", "."}},
		{"mixed", []string{"-s", ".", "--objects"}, []string{"-s", "--objects", "."}},
		{"no flags", []string{"."}, []string{"."}},
		{"no args", nil, nil},
		{"bool flag", []string{"-V"}, []string{"-V"}},
		{"separator", []string{"-c", "--", "-weird"}, []string{"-c", "-weird"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := reorderArgs(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("len: got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("index %d: got %q, want %q (full: %v)", i, got[i], tt.want[i], got)
					break
				}
			}
		})
	}
}
