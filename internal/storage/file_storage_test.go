package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoadTextFile(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}

	path, err := fs.SaveTextFile("exports/abc", "topic_script.md", []byte("# Topic"))
	if err != nil {
		t.Fatalf("SaveTextFile: %v", err)
	}
	if filepath.Base(path) != "topic_script.md" {
		t.Errorf("path = %q", path)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	got, err := fs.LoadTextFile("exports/abc", "topic_script.md")
	if err != nil {
		t.Fatalf("LoadTextFile: %v", err)
	}
	if string(got) != "# Topic" {
		t.Errorf("content = %q", got)
	}
	if !fs.FileExists("exports/abc", "topic_script.md") {
		t.Error("FileExists = false")
	}
}

func TestSaveOverwrites(t *testing.T) {
	fs, _ := NewFileStorage(t.TempDir())
	fs.SaveTextFile("exports", "a.md", []byte("one"))
	fs.SaveTextFile("exports", "a.md", []byte("two"))

	got, _ := fs.LoadTextFile("exports", "a.md")
	if string(got) != "two" {
		t.Errorf("content = %q, want two", got)
	}
}

func TestRejectsPathEscapes(t *testing.T) {
	fs, _ := NewFileStorage(t.TempDir())

	cases := []struct{ dir, name string }{
		{"exports", "../evil.md"},
		{"exports", ""},
		{"exports", ".."},
		{"../outside", "a.md"},
	}
	for _, c := range cases {
		if _, err := fs.SaveTextFile(c.dir, c.name, []byte("x")); err == nil {
			t.Errorf("SaveTextFile(%q, %q) succeeded", c.dir, c.name)
		}
	}
}

func TestListFiles(t *testing.T) {
	fs, _ := NewFileStorage(t.TempDir())

	files, err := fs.ListFiles("exports")
	if err != nil || len(files) != 0 {
		t.Fatalf("ListFiles(missing) = %v, %v", files, err)
	}

	fs.SaveTextFile("exports", "b.md", []byte("b"))
	fs.SaveTextFile("exports", "a.md", []byte("a"))

	files, err = fs.ListFiles("exports")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 || files[0] != "a.md" || files[1] != "b.md" {
		t.Errorf("files = %v", files)
	}
}

func TestRemoveDir(t *testing.T) {
	fs, _ := NewFileStorage(t.TempDir())
	fs.SaveTextFile("exports/abc", "a.md", []byte("a"))
	fs.SaveTextFile("exports/def", "b.md", []byte("b"))

	if err := fs.RemoveDir("exports/abc"); err != nil {
		t.Fatalf("RemoveDir: %v", err)
	}
	if fs.FileExists("exports/abc", "a.md") {
		t.Error("file survived RemoveDir")
	}
	if !fs.FileExists("exports/def", "b.md") {
		t.Error("sibling directory removed")
	}
	if err := fs.RemoveDir("exports/abc"); err != nil {
		t.Errorf("RemoveDir(missing) = %v, want nil", err)
	}

	for _, dir := range []string{"", ".", "exports/..", "../outside"} {
		if err := fs.RemoveDir(dir); err == nil {
			t.Errorf("RemoveDir(%q) succeeded", dir)
		}
	}
	if _, err := os.Stat(fs.BaseDir); err != nil {
		t.Errorf("base dir gone: %v", err)
	}
}

func TestListFilesRejectsEscape(t *testing.T) {
	fs, _ := NewFileStorage(t.TempDir())
	if _, err := fs.ListFiles("../outside"); err == nil {
		t.Error("ListFiles(../outside) succeeded")
	}
}
