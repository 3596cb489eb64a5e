// Package opcode replaces branch instructions with their raw encodings in
// functions that the assembler would otherwise pad with unwanted nops around
// short loops.
package opcode

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/phobologic/b3configure/internal/discover"
)

// Problematic lists the functions whose short loops are miscompiled by the
// assembler unless their branches are emitted as raw words.
var Problematic = map[string]bool{
	"UpdateJtActive__FP2JTP3JOYf":                               true, // P2/jt
	"AddMatrix4Matrix4__FP7MATRIX4N20":                          true, // P2/mat
	"FInvertMatrix__FiPfT1":                                     true, // P2/mat
	"PwarpFromOid__F3OIDT0":                                     true, // P2/xform
	"RenderMsGlobset__FP2MSP2CMP2RO":                            true, // P2/ms
	"ProjectBlipgTransform__FP5BLIPGfi":                         true, // P2/blip
	"DrawTvBands__FP2TVR4GIFS":                                  true, // P2/tv
	"LoadShadersFromBrx__FP18CBinaryInputStream":                true, // P2/shd
	"FillShaders__Fi":                                           true, // P2/shd
	"FUN_001aea70":                                              true, // P2/screen
	"ApplyDzg__FP3DZGiPiPPP2SOff":                               true, // P2/dzg
	"BounceRipgRips__FP4RIPG":                                   true, // P2/rip
	"UpdateStepPhys__FP4STEP":                                   true, // P2/step
	"PredictAsegEffect__FP4ASEGffP3ALOT3iP6VECTORP7MATRIX3T6T6": true, // P2/aseg
	"ExplodeExplsExplso__FP5EXPLSP6EXPLSO":                      true, // P2/emitter
	"UpdateShadow__FP6SHADOWf":                                  true, // P2/shadow
}

// branch matches a disassembled branch line: the address comment carrying
// four encoded bytes, two spaces, then the mnemonic and its operands.
var branch = regexp.MustCompile(
	`/\* (.+) ([0-9A-Z]{2})([0-9A-Z]{2})([0-9A-Z]{2})([0-9A-Z]{2}) \*/  ` +
		`(\b(bne|bnel|beq|beql|bnez|bnezl|beqzl|bgez|bgezl|bgtz|bgtzl|blez|blezl|bltz|bltzl|b)\b.*)`)

// The encoded bytes are listed big-endian in the comment; .word wants them
// in target (little-endian) order.
const replacement = `/* ${1} ${2}${3}${4}${5} */  .word      0x${5}${4}${3}${2} /* ${6} */`

// Result lists the rewritten files and the number of branches replaced.
type Result struct {
	Files         []string
	Substitutions int
}

// Substitute rewrites every branch line in content and returns the new
// content with the number of replacements. Already rewritten lines no longer
// match, so applying it twice is a no-op.
func Substitute(content string) (string, int) {
	n := len(branch.FindAllStringIndex(content, -1))
	if n == 0 {
		return content, 0
	}
	return branch.ReplaceAllString(content, replacement), n
}

// Apply walks <asmRoot>/nonmatchings and substitutes branches in the
// assembly of every problematic function. A missing nonmatchings tree is
// not an error.
func Apply(asmRoot string) (*Result, error) {
	res := &Result{}
	dir := filepath.Join(asmRoot, "nonmatchings")
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}

	paths, err := discover.AsmFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	for _, path := range paths {
		if !Problematic[strings.TrimSuffix(filepath.Base(path), ".s")] {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		updated, n := Substitute(string(data))
		if n == 0 {
			continue
		}
		if err := os.WriteFile(path, []byte(updated), info.Mode().Perm()); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
		res.Files = append(res.Files, path)
		res.Substitutions += n
	}
	return res, nil
}
