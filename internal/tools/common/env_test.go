package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeEnvFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadEnvFileIgnoresMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.env")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("a missing env file is not an error, got %v", err)
	}
}

func TestLoadEnvFileParsesAndKeepsProcessEnv(t *testing.T) {
	t.Setenv("ALREADY_SET", "process-value")

	path := writeEnvFixture(t, strings.Join([]string{
		"# leading comment",
		"ALREADY_SET=file-value",
		"FRESH_KEY=from-file",
		`WRAPPED="inner"`,
		"not a key value pair",
		"",
	}, "\n"))

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}

	if got := os.Getenv("ALREADY_SET"); got != "process-value" {
		t.Fatalf("process env must win over the file, got %q", got)
	}
	if got := os.Getenv("FRESH_KEY"); got != "from-file" {
		t.Fatalf("FRESH_KEY=%q", got)
	}
	if got := os.Getenv("WRAPPED"); got != "inner" {
		t.Fatalf("surrounding quotes should be stripped, got %q", got)
	}
}

func TestLoadEnvFileRejectsDirectory(t *testing.T) {
	if err := LoadEnvFile(t.TempDir()); err == nil {
		t.Fatal("pointing LoadEnvFile at a directory must fail")
	}
}

func FuzzLoadEnvFile(f *testing.F) {
	f.Add([]byte("A=1\nB=2\n"))
	f.Add([]byte("garbage line\n# note\n KEY = \"v\" \n"))
	f.Add([]byte("NAME_\xf0\x9f\x94\xa5=\xe3\x81\x93\n"))
	f.Add([]byte(strings.Repeat("x", 70000)))

	f.Fuzz(func(t *testing.T, content []byte) {
		if len(content) > 200000 {
			content = content[:200000]
		}
		path := filepath.Join(t.TempDir(), "fuzz.env")
		if err := os.WriteFile(path, content, 0o600); err != nil {
			t.Fatalf("write fuzz input: %v", err)
		}

		class := func(err error) string {
			switch {
			case err == nil:
				return "none"
			case strings.Contains(err.Error(), "open env file:"):
				return "open"
			case strings.Contains(err.Error(), "read env file:"):
				return "read"
			default:
				return "other"
			}
		}

		first := class(LoadEnvFile(path))
		second := class(LoadEnvFile(path))
		if first == "other" {
			t.Fatalf("unexpected error class on %q", first)
		}
		if first != second {
			t.Fatalf("outcome changed between runs: %q then %q", first, second)
		}
	})
}
