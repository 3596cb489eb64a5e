// Package parse scans hand-written C/C++ units using tree-sitter.
package parse

import (
	"context"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/b3configure/internal/lang"
	"github.com/phobologic/b3configure/internal/model"
)

const (
	captureDefinition = "definition.function"
	captureDeclarator = "declarator"
	captureIncludeAsm = "reference.include_asm"
	captureName       = "name"
)

// includeAsmArgs matches the arguments of INCLUDE_ASM("dir", name).
var includeAsmArgs = regexp.MustCompile(`^INCLUDE_ASM\s*\(\s*"[^"]*"\s*,\s*([A-Za-z_][A-Za-z0-9_]*)`)

// ScanUnit parses a source file and reports the functions it defines in C
// and the functions it still includes as assembly.
// The parser must be created for the language l.
func ScanUnit(l *lang.Language, parser *sitter.Parser, query *sitter.Query, source []byte, filePath string) model.SourceUnit {
	unit := model.SourceUnit{Path: filePath, Language: l.Name}
	if len(source) == 0 {
		return unit
	}

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return unit
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, tree.RootNode())

	seenAsm := make(map[uint32]struct{})

	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, source)

		var declNode, nameNode *sitter.Node
		var isDef, isAsm bool
		for _, c := range match.Captures {
			switch query.CaptureNameForId(c.Index) {
			case captureDefinition:
				isDef = true
			case captureDeclarator:
				declNode = c.Node
			case captureIncludeAsm:
				isAsm = true
			case captureName:
				nameNode = c.Node
			}
		}

		switch {
		case isDef && declNode != nil:
			if name := functionName(declNode, source); name != "" {
				unit.Functions = append(unit.Functions, name)
			}
		case isAsm && nameNode != nil:
			if _, dup := seenAsm[nameNode.StartByte()]; dup {
				continue
			}
			seenAsm[nameNode.StartByte()] = struct{}{}
			unit.IncludeAsm = append(unit.IncludeAsm, includedFunction(nameNode, source))
		}
	}

	return unit
}

// Complete reports whether no function of the unit is still included as assembly.
func Complete(unit model.SourceUnit) bool {
	return len(unit.IncludeAsm) == 0
}

// functionName unwraps pointer and reference declarators down to the
// function declarator and returns its name.
func functionName(decl *sitter.Node, source []byte) string {
	for decl != nil {
		if decl.Type() == "function_declarator" {
			inner := decl.ChildByFieldName("declarator")
			if inner == nil {
				return ""
			}
			return lang.NodeText(inner, source)
		}
		next := decl.ChildByFieldName("declarator")
		if next == nil {
			// reference_declarator has no declarator field
			next = lastNamedChild(decl)
		}
		decl = next
	}
	return ""
}

func lastNamedChild(n *sitter.Node) *sitter.Node {
	count := int(n.NamedChildCount())
	if count == 0 {
		return nil
	}
	return n.NamedChild(count - 1)
}

// includedFunction returns the function named by an INCLUDE_ASM invocation,
// or the macro's line text when the arguments cannot be read.
func includedFunction(macro *sitter.Node, source []byte) string {
	rest := source[macro.StartByte():]
	if m := includeAsmArgs.FindSubmatch(rest); m != nil {
		return string(m[1])
	}
	end := len(rest)
	if i := strings.IndexByte(string(rest), '\n'); i >= 0 {
		end = i
	}
	return strings.TrimSpace(string(rest[:end]))
}
