package preview

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGenerateEmptyDir(t *testing.T) {
	out, err := Generate(t.TempDir())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "" {
		t.Errorf("preview = %q, want empty", out)
	}
}

func TestGenerateMissingDir(t *testing.T) {
	out, err := Generate(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("absent data dir must not be an error, got %v", err)
	}
	if out != "" {
		t.Errorf("preview = %q, want empty", out)
	}
}

func TestGenerateEmptyPath(t *testing.T) {
	out, err := Generate("")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "" {
		t.Errorf("preview = %q, want empty", out)
	}
}

func TestGenerateListsFilesWithHeads(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "train.csv", "id,price\n1,100\n2,200\n3,300\n4,400\n5,500\n6,600\n")
	writeFile(t, dir, "model.bin", "\x00\x01\x02")

	out, err := Generate(dir)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !strings.Contains(out, "train.csv") {
		t.Errorf("preview missing train.csv:\n%s", out)
	}
	if !strings.Contains(out, "id,price") {
		t.Errorf("preview missing csv head:\n%s", out)
	}
	// Head is capped, so later rows are elided.
	if strings.Contains(out, "6,600") {
		t.Errorf("preview should cap head lines:\n%s", out)
	}
	// Binary files are listed by name and size only.
	if !strings.Contains(out, "model.bin (3 bytes)") {
		t.Errorf("preview missing model.bin entry:\n%s", out)
	}
	if strings.Contains(out, "\x00") {
		t.Error("preview should not include binary content")
	}
}

func TestGenerateSkipsHiddenDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "data.txt", "hello")
	writeFile(t, dir, ".git/config", "secret")

	out, err := Generate(dir)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if strings.Contains(out, "config") {
		t.Errorf("preview should skip hidden dirs:\n%s", out)
	}
}

func TestGenerateCapsFileCount(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < maxFiles+5; i++ {
		writeFile(t, dir, fmt.Sprintf("f%03d.bin", i), "x")
	}

	out, err := Generate(dir)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(out, "and 5 more files") {
		t.Errorf("preview should report elided files:\n%s", out)
	}
}

func TestGenerateTruncatesLongLines(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "wide.csv", strings.Repeat("a", maxLineLen+50)+"\n")

	out, err := Generate(dir)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(out, "...") {
		t.Errorf("long lines should be truncated:\n%s", out)
	}
	if strings.Contains(out, strings.Repeat("a", maxLineLen+1)) {
		t.Error("line exceeds the cap")
	}
}
