// Package ninja writes build files in the ninja build system's syntax.
package ninja

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Rule is a ninja rule declaration.
type Rule struct {
	Name        string
	Command     string
	Description string
}

// Build is a single ninja build statement.
type Build struct {
	Outputs         []string
	Rule            string
	Inputs          []string
	Implicit        []string
	ImplicitOutputs []string
	Variables       map[string]string
}

// Writer emits ninja syntax to an underlying writer.
// The first write error is kept and returned by Err; later calls are no-ops.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter returns a Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error encountered while writing.
func (nw *Writer) Err() error {
	return nw.err
}

// Comment writes a comment line.
func (nw *Writer) Comment(text string) {
	nw.line("# " + text)
}

// Newline writes an empty line.
func (nw *Writer) Newline() {
	nw.line("")
}

// Variable writes a top-level variable binding.
func (nw *Writer) Variable(key, value string) {
	nw.variable(key, value, 0)
}

// Rule writes a rule declaration.
func (nw *Writer) Rule(r Rule) {
	nw.line("rule " + r.Name)
	nw.variable("command", r.Command, 1)
	if r.Description != "" {
		nw.variable("description", r.Description, 1)
	}
	nw.Newline()
}

// Build writes a build statement. Variables are written in key order.
func (nw *Writer) Build(b Build) {
	outs := EscapePaths(b.Outputs)
	if len(b.ImplicitOutputs) > 0 {
		outs = append(outs, "|")
		outs = append(outs, EscapePaths(b.ImplicitOutputs)...)
	}

	deps := EscapePaths(b.Inputs)
	if len(b.Implicit) > 0 {
		deps = append(deps, "|")
		deps = append(deps, EscapePaths(b.Implicit)...)
	}

	head := fmt.Sprintf("build %s: %s", strings.Join(outs, " "), b.Rule)
	if len(deps) > 0 {
		head += " " + strings.Join(deps, " ")
	}
	nw.line(head)

	keys := make([]string, 0, len(b.Variables))
	for k := range b.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		nw.variable(k, b.Variables[k], 1)
	}
}

func (nw *Writer) variable(key, value string, indent int) {
	nw.line(strings.Repeat("  ", indent) + key + " = " + value)
}

func (nw *Writer) line(s string) {
	if nw.err != nil {
		return
	}
	_, nw.err = io.WriteString(nw.w, s+"\n")
}

// EscapePath escapes the characters ninja treats specially in paths.
func EscapePath(p string) string {
	p = strings.ReplaceAll(p, "$ ", "$$ ")
	p = strings.ReplaceAll(p, " ", "$ ")
	return strings.ReplaceAll(p, ":", "$:")
}

// EscapePaths escapes every path in ps.
func EscapePaths(ps []string) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = EscapePath(p)
	}
	return out
}
