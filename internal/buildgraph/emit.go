package buildgraph

import (
	"io"

	"github.com/phobologic/b3configure/internal/config"
	"github.com/phobologic/b3configure/internal/model"
	"github.com/phobologic/b3configure/internal/ninja"
)

// NinjaRules returns the rule declarations for every action, in declaration order.
func NinjaRules(cfg *config.Config) []ninja.Rule {
	return []ninja.Rule{
		{Name: string(model.Assemble), Command: cfg.AssembleCommand(), Description: "as $in"},
		{Name: string(model.Compile), Command: cfg.CompileRuleCommand(), Description: "cc $in"},
		{Name: string(model.Link), Command: cfg.LinkCommand(), Description: "link $out"},
		{Name: string(model.Verify), Command: cfg.VerifyCommand(), Description: "sha1sum $in"},
		{Name: string(model.Extract), Command: cfg.ExtractCommand(), Description: "elf $out"},
	}
}

// Write renders the rule declarations and the compiled graph as a ninja file.
func Write(w io.Writer, rules []ninja.Rule, result *Result) error {
	nw := ninja.NewWriter(w)
	nw.Comment("Generated by b3configure. Do not edit.")
	nw.Newline()
	// Implicit outputs need ninja 1.7.
	nw.Variable("ninja_required_version", "1.7")
	nw.Newline()

	for _, r := range rules {
		nw.Rule(r)
	}

	for _, r := range result.Rules {
		nw.Build(ninja.Build{
			Outputs:         r.Outputs,
			Rule:            string(r.Action),
			Inputs:          r.Inputs,
			Implicit:        r.Implicit,
			ImplicitOutputs: r.ImplicitOutputs,
			Variables:       r.Variables,
		})
	}

	return nw.Err()
}

// NewOptions fills the path settings of Options from cfg. Mode flags are left unset.
func NewOptions(cfg *config.Config) Options {
	return Options{
		TargetRoot:   config.TargetObjDir,
		CurrentRoot:  config.CurrentObjDir,
		SkipAsmFlag:  config.SkipAsmFlag,
		LinkerScript: cfg.LinkerScript(),
		PreElfPath:   cfg.PreElfPath(),
		ElfPath:      cfg.ElfPath(),
		MapPath:      cfg.MapPath(),
		ChecksumPath: config.ChecksumPath,
	}
}
