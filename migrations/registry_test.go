package migrations

import (
	"context"
	"io/fs"
	"testing"
)

func TestFilesystemsExposeBothDialects(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected postgres and sqlite filesystems, got %d", len(filesystems))
	}

	byDialect := map[string]FilesystemSpec{}
	for _, spec := range filesystems {
		byDialect[spec.Dialect] = spec
	}
	for _, dialect := range []string{DialectPostgres, DialectSQLite} {
		spec, ok := byDialect[dialect]
		if !ok {
			t.Fatalf("missing %s filesystem", dialect)
		}
		matches, globErr := fs.Glob(spec.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s up migrations, got none", dialect)
		}
	}
}

func TestRegisterInvokesPerValidatedDialect(t *testing.T) {
	seen := map[string]string{}
	reg, err := Register(context.Background(), func(_ context.Context, dialect string, sourceLabel string, fsys fs.FS) error {
		if fsys == nil {
			t.Fatalf("expected filesystem for %s", dialect)
		}
		seen[dialect] = sourceLabel
		return nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.SourceLabel != "go-crm-connect" {
		t.Fatalf("unexpected source label %q", reg.SourceLabel)
	}
	if len(seen) != 2 {
		t.Fatalf("expected both dialects registered, got %v", seen)
	}
	if seen[DialectPostgres] != "go-crm-connect" {
		t.Fatalf("unexpected label for postgres: %q", seen[DialectPostgres])
	}
}

func TestRegisterHonorsValidationTargets(t *testing.T) {
	var dialects []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		dialects = append(dialects, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(dialects) != 1 || dialects[0] != DialectSQLite {
		t.Fatalf("expected sqlite only, got %v", dialects)
	}
}

func TestRegisterRequiresCallback(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil register function")
	}
}
