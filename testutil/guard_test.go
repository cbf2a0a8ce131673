package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingFatal struct {
	msg string
}

func (r *recordingFatal) Fatalf(format string, args ...any) {
	r.msg = format
	if len(args) > 1 {
		if s, ok := args[1].(string); ok {
			r.msg += s
		}
	}
}

func TestImportPredicates(t *testing.T) {
	cases := []struct {
		in              string
		internal, infra bool
	}{
		{"pluginhost/internal/core", true, false},
		{"pluginhost/internal/infra/blob/s3", true, true},
		{"pluginhost/internal/infra", true, true},
		{"pluginhost/internal", true, false},
		{"pluginhost/pkg/domain", false, false},
		{"github.com/x/infrastructure", false, false},
	}
	for _, c := range cases {
		if got := InternalImportForbidden(c.in); got != c.internal {
			t.Fatalf("InternalImportForbidden(%q)=%v want %v", c.in, got, c.internal)
		}
		if got := InfraImportForbidden(c.in); got != c.infra {
			t.Fatalf("InfraImportForbidden(%q)=%v want %v", c.in, got, c.infra)
		}
	}
}

func writeGo(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package tmp\nimport (\n\t\"fmt\"\n\t\"pluginhost/internal/infra/blob/fs\"\n)\n")
	writeGo(t, dir, "a_test.go", "package tmp\nimport \"pluginhost/internal/infra/blob/s3\"\n")
	writeGo(t, dir, "notes.txt", "import \"pluginhost/internal/infra\"")

	viols, err := directImportViolations(dir, InfraImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "pluginhost/internal/infra/blob/fs (in a.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}

	AssertNoDirectImports(t, dir, func(p string) bool { return p == "os" }, "os allowed")
}

func TestDirectImportViolationsErrors(t *testing.T) {
	if _, err := directImportViolations(filepath.Join(t.TempDir(), "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected error for missing dir")
	}
	dir := t.TempDir()
	writeGo(t, dir, "bad.go", "package tmp\nimport \"unterminated\n")
	if _, err := directImportViolations(dir, InternalImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFailHelpers(t *testing.T) {
	var r recordingFatal
	failIfDirectViolations(&r, "why", nil)
	failIfTransitiveViolations(&r, "why", nil)
	if r.msg != "" {
		t.Fatalf("no violations should not fail, got %q", r.msg)
	}
	failIfDirectViolations(&r, "why", []string{"x (in a.go)"})
	if !strings.Contains(r.msg, "forbidden direct imports") || !strings.Contains(r.msg, "x (in a.go)") {
		t.Fatalf("unexpected message %q", r.msg)
	}
	failIfTransitiveViolations(&r, "why", []string{"a/b"})
	if !strings.Contains(r.msg, "forbidden transitive dependency") {
		t.Fatalf("unexpected message %q", r.msg)
	}
}

func TestTransitiveDependencyOfSelf(t *testing.T) {
	viols, err := transitiveDependencyViolations(".", ".", func(p string) bool {
		return p == "golang.org/x/tools/go/packages"
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(viols) != 1 {
		t.Fatalf("expected go/packages in the dependency graph, got %v", viols)
	}
	AssertNoTransitiveDependency(t, ".", ".", InfraImportForbidden, "testutil stays standalone")
}
