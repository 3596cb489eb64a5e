package lang

import (
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
)

func init() {
	Languages["c"] = &Language{
		Name:       "c",
		Extensions: []string{".c"},
		lang:       c.GetLanguage(),
	}
	Languages["cpp"] = &Language{
		Name:       "cpp",
		Extensions: []string{".cpp"},
		lang:       cpp.GetLanguage(),
	}
}
