package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckDestinationAccessible(t *testing.T) {
	t.Run("Happy Path - Destination Exists", func(t *testing.T) {
		if err := CheckDestinationAccessible(t.TempDir()); err != nil {
			t.Errorf("expected no error for existing directory, but got: %v", err)
		}
	})

	t.Run("Happy Path - Destination Does Not Exist, Parent Exists", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "new_dir")
		if err := CheckDestinationAccessible(dest); err != nil {
			t.Errorf("expected no error when parent exists, but got: %v", err)
		}
	})

	t.Run("Error - Parent Missing", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "missing", "new_dir")
		err := CheckDestinationAccessible(dest)
		if err == nil || !strings.Contains(err.Error(), "do not exist") {
			t.Errorf("expected error about missing parent, but got: %v", err)
		}
	})

	t.Run("Error - Destination Is a File", func(t *testing.T) {
		destFile := filepath.Join(t.TempDir(), "dest.txt")
		if err := os.WriteFile(destFile, []byte("i am a file"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
		err := CheckDestinationAccessible(destFile)
		if err == nil || !strings.Contains(err.Error(), "is not a directory") {
			t.Errorf("expected error to be about 'not a directory', but got: %v", err)
		}
	})
}

func TestCheckSourceAccessible(t *testing.T) {
	t.Run("Happy Path - Source is a directory", func(t *testing.T) {
		if err := CheckSourceAccessible(t.TempDir()); err != nil {
			t.Errorf("expected no error for existing directory, but got: %v", err)
		}
	})

	t.Run("Error - Source does not exist", func(t *testing.T) {
		err := CheckSourceAccessible(filepath.Join(t.TempDir(), "nonexistent"))
		if err == nil || !strings.Contains(err.Error(), "does not exist") {
			t.Errorf("expected error about non-existent source, but got: %v", err)
		}
	})

	t.Run("Error - Source is a file", func(t *testing.T) {
		srcFile := filepath.Join(t.TempDir(), "source.txt")
		if err := os.WriteFile(srcFile, []byte("i am a file"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
		err := CheckSourceAccessible(srcFile)
		if err == nil || !strings.Contains(err.Error(), "is not a directory") {
			t.Errorf("expected error about source not being a directory, but got: %v", err)
		}
	})
}

func TestRun(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "snaps")

	if err := Run(&Plan{SourceAccessible: true, DestinationAccessible: true}, src, dest); err != nil {
		t.Fatalf("expected checks to pass, got: %v", err)
	}
	if err := Run(&Plan{SourceAccessible: true}, filepath.Join(src, "missing"), dest); err == nil {
		t.Fatal("expected source check to fail")
	}
	// Disabled checks never fail.
	if err := Run(&Plan{}, "", ""); err != nil {
		t.Fatalf("expected no error for an empty plan, got: %v", err)
	}
}

func TestDeepestExisting(t *testing.T) {
	base := t.TempDir()
	if got := deepestExisting(filepath.Join(base, "a", "b")); got != base {
		t.Errorf("expected %q, got %q", base, got)
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
}
