// Package splat reads the splitter's segment layout and drives the splitter.
package splat

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Options are the path settings from the layout's options block.
type Options struct {
	Basename  string `yaml:"basename"`
	AsmPath   string `yaml:"asm_path"`
	SrcPath   string `yaml:"src_path"`
	BuildPath string `yaml:"build_path"`
	AssetPath string `yaml:"asset_path"`

	// UseOAsSuffix names objects jt.o rather than jt.s.o.
	UseOAsSuffix bool `yaml:"use_o_as_suffix"`
}

// Subsegment is one entry of a segment's subsegments list.
type Subsegment struct {
	Start   string
	Type    string
	Name    string
	Options map[string]any
}

// Segment is a top-level segment of the layout.
type Segment struct {
	Name        string
	Type        string
	Start       string
	Options     map[string]any
	Subsegments []Subsegment
}

// Layout is a parsed segment layout.
type Layout struct {
	Options  Options
	Segments []Segment
}

type rawLayout struct {
	Options  Options     `yaml:"options"`
	Segments []yaml.Node `yaml:"segments"`
}

type rawSegment struct {
	Name        string         `yaml:"name"`
	Type        string         `yaml:"type"`
	Start       yaml.Node      `yaml:"start"`
	Subsegments []yaml.Node    `yaml:"subsegments"`
	Options     map[string]any `yaml:",inline"`
}

// ReadLayout reads and parses a layout file.
func ReadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layout: %w", err)
	}
	l, err := ParseLayout(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// ParseLayout parses layout YAML. Segments and subsegments may be written
// either as mappings or as [start, type, name, {options}] lists.
func ParseLayout(data []byte) (*Layout, error) {
	var raw rawLayout
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing layout: %w", err)
	}

	l := &Layout{Options: withDefaults(raw.Options)}
	for i := range raw.Segments {
		seg, ok, err := parseSegment(&raw.Segments[i])
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		if ok {
			l.Segments = append(l.Segments, seg)
		}
	}
	return l, nil
}

func withDefaults(o Options) Options {
	if o.AsmPath == "" {
		o.AsmPath = "asm"
	}
	if o.SrcPath == "" {
		o.SrcPath = "src"
	}
	if o.BuildPath == "" {
		o.BuildPath = "build"
	}
	if o.AssetPath == "" {
		o.AssetPath = "assets"
	}
	return o
}

// parseSegment returns ok=false for the bare [end] marker.
func parseSegment(n *yaml.Node) (Segment, bool, error) {
	switch n.Kind {
	case yaml.SequenceNode:
		sub, err := parseListEntry(n)
		if err != nil {
			return Segment{}, false, err
		}
		if sub.Type == "" {
			return Segment{}, false, nil
		}
		return Segment{Name: sub.Name, Type: sub.Type, Start: sub.Start, Options: sub.Options}, true, nil
	case yaml.MappingNode:
		var rs rawSegment
		if err := n.Decode(&rs); err != nil {
			return Segment{}, false, err
		}
		seg := Segment{Name: rs.Name, Type: rs.Type, Start: rs.Start.Value, Options: rs.Options}
		for i := range rs.Subsegments {
			sub, err := parseSubsegment(&rs.Subsegments[i])
			if err != nil {
				return Segment{}, false, fmt.Errorf("%s subsegment %d: %w", rs.Name, i, err)
			}
			if sub.Type == "" {
				continue
			}
			seg.Subsegments = append(seg.Subsegments, sub)
		}
		return seg, true, nil
	}
	return Segment{}, false, fmt.Errorf("line %d: unexpected yaml node", n.Line)
}

func parseSubsegment(n *yaml.Node) (Subsegment, error) {
	switch n.Kind {
	case yaml.SequenceNode:
		return parseListEntry(n)
	case yaml.MappingNode:
		var rs rawSegment
		if err := n.Decode(&rs); err != nil {
			return Subsegment{}, err
		}
		sub := Subsegment{Start: rs.Start.Value, Type: rs.Type, Name: rs.Name, Options: rs.Options}
		if sub.Name == "" {
			sub.Name = defaultName(sub.Start)
		}
		return sub, nil
	}
	return Subsegment{}, fmt.Errorf("line %d: unexpected yaml node", n.Line)
}

func parseListEntry(n *yaml.Node) (Subsegment, error) {
	var sub Subsegment
	for i, item := range n.Content {
		switch i {
		case 0:
			sub.Start = item.Value
		case 1:
			sub.Type = item.Value
		case 2:
			sub.Name = item.Value
		case 3:
			if item.Kind != yaml.MappingNode {
				continue
			}
			if err := item.Decode(&sub.Options); err != nil {
				return Subsegment{}, fmt.Errorf("line %d: options: %w", item.Line, err)
			}
		}
	}
	if sub.Type != "" && sub.Name == "" {
		sub.Name = defaultName(sub.Start)
	}
	return sub, nil
}

// defaultName names an anonymous subsegment after its start offset.
func defaultName(start string) string {
	s := strings.TrimPrefix(strings.ToLower(start), "0x")
	return strings.ToUpper(s)
}

// Group returns the subsegment's group tag, if any.
func (s Subsegment) Group() string {
	g, _ := s.Options["group"].(string)
	return g
}

// Dir returns the subsegment's own dir option, if any.
func (s Subsegment) Dir() string {
	return stringOption(s.Options, "dir")
}

// Dir returns the directory the segment's subsegments are split into,
// relative to the asm, src and asset paths.
func (s Segment) Dir() string {
	return stringOption(s.Options, "dir")
}

func stringOption(opts map[string]any, key string) string {
	v, _ := opts[key].(string)
	return v
}
