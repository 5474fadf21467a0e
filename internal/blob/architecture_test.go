package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// importRule restricts who may import the packages under guarded.
type importRule struct {
	guarded string
	allowed []string
}

var importRules = []importRule{
	// Object stores are constructed only by this package; everything else
	// holds a blob.Store.
	{guarded: "clonecore/internal/infra/blob", allowed: []string{"clonecore/internal/blob"}},
	// SQL snapshot backends are chosen at the edge.
	{guarded: "clonecore/internal/infra/persistence", allowed: []string{"clonecore/cmd", "clonecore/internal/integration"}},
}

func TestInfraImportBoundaries(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "clonecore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		for _, rule := range importRules {
			if underPrefix(pkg.PkgPath, rule.guarded) || allowedBy(pkg.PkgPath, rule.allowed) {
				continue
			}
			for importPath := range pkg.Imports {
				if underPrefix(importPath, rule.guarded) {
					seen[pkg.PkgPath+": "+importPath] = struct{}{}
				}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden infra import: %s", v)
		}
		t.Fatalf("found %d forbidden infra imports", len(violations))
	}
}

func allowedBy(pkgPath string, allowed []string) bool {
	for _, prefix := range allowed {
		if underPrefix(pkgPath, prefix) {
			return true
		}
	}
	return false
}

func underPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
