package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modulePath = "bulwark"

type violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

// layerRule lists what a context layer may import besides the standard library.
type layerRule struct {
	allowed     func(servicePrefix string) []string
	noInternal  bool
	noAdapters  bool
	layerLabel  string
	allowedNote string
}

var layerRules = map[string]layerRule{
	"domain": {
		allowed:     func(p string) []string { return []string{p + "/domain"} },
		noInternal:  true,
		noAdapters:  true,
		layerLabel:  "domain",
		allowedNote: "domain import is outside explicit allowlist",
	},
	"application": {
		allowed: func(p string) []string {
			return []string{p + "/application", p + "/domain", p + "/ports"}
		},
		noInternal:  true,
		noAdapters:  true,
		layerLabel:  "application",
		allowedNote: "application import is outside explicit allowlist",
	},
	"ports": {
		allowed: func(p string) []string {
			return []string{p + "/domain", modulePath + "/internal/shared"}
		},
		layerLabel:  "ports",
		allowedNote: "ports import is outside explicit allowlist",
	},
}

func main() {
	violations := collectViolations("contexts")
	if len(violations) == 0 {
		fmt.Println("boundary checks passed")
		return
	}

	fmt.Println("boundary violations found:")
	for _, v := range violations {
		fmt.Printf("- %s:%d imports %q (%s)\n", v.File, v.Line, v.Import, v.Rule)
	}
	os.Exit(1)
}

// collectViolations walks contexts/<area>/<service>/<layer>/... and checks the
// imports of every non-test file against its layer rule.
func collectViolations(root string) []violation {
	var violations []violation

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(path), "/")
		if len(parts) < 4 || parts[0] != "contexts" {
			return nil
		}
		servicePrefix := strings.Join([]string{modulePath, "contexts", parts[1], parts[2]}, "/")
		violations = append(violations, checkFile(path, parts[3], servicePrefix)...)
		return nil
	})

	sort.Slice(violations, func(i, j int) bool {
		a, b := violations[i], violations[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Import < b.Import
	})
	return violations
}

func checkFile(path string, layer string, servicePrefix string) []violation {
	file := filepath.ToSlash(path)
	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return []violation{{File: file, Line: 1, Rule: "file must parse"}}
	}

	var violations []violation
	for _, spec := range parsed.Imports {
		importPath := strings.Trim(spec.Path.Value, `"`)
		line := fset.Position(spec.Pos()).Line

		if isContextImport(importPath) && !hasPrefix(importPath, servicePrefix) {
			violations = append(violations, violation{file, line, importPath, "cross-module imports are forbidden"})
		}
		switch layer {
		case "domain":
			violations = append(violations, validateDomainImport(file, line, importPath, servicePrefix)...)
		case "application":
			violations = append(violations, validateApplicationImport(file, line, importPath, servicePrefix)...)
		case "ports":
			violations = append(violations, validatePortsImport(file, line, importPath, servicePrefix)...)
		}
	}
	return violations
}

func validateDomainImport(file string, line int, importPath string, servicePrefix string) []violation {
	return layerRules["domain"].check(file, line, importPath, servicePrefix)
}

func validateApplicationImport(file string, line int, importPath string, servicePrefix string) []violation {
	return layerRules["application"].check(file, line, importPath, servicePrefix)
}

func validatePortsImport(file string, line int, importPath string, servicePrefix string) []violation {
	return layerRules["ports"].check(file, line, importPath, servicePrefix)
}

func (r layerRule) check(file string, line int, importPath string, servicePrefix string) []violation {
	var violations []violation
	if r.noAdapters && strings.Contains(importPath, "/adapters/") {
		violations = append(violations, violation{file, line, importPath, r.layerLabel + " must not import adapters"})
	}
	if r.noInternal && hasPrefix(importPath, modulePath+"/internal") {
		violations = append(violations, violation{file, line, importPath, r.layerLabel + " must not import runtime infrastructure"})
	}
	if !isStdlib(importPath) && !isAllowed(importPath, r.allowed(servicePrefix)) {
		violations = append(violations, violation{file, line, importPath, r.allowedNote})
	}
	return violations
}

func isContextImport(importPath string) bool {
	return strings.HasPrefix(importPath, modulePath+"/contexts/")
}

func hasPrefix(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isAllowed(importPath string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if hasPrefix(importPath, prefix) {
			return true
		}
	}
	return false
}

// isStdlib treats any import whose first element has no dot as standard library.
func isStdlib(importPath string) bool {
	if hasPrefix(importPath, modulePath) {
		return false
	}
	first, _, _ := strings.Cut(importPath, "/")
	return !strings.Contains(first, ".")
}
