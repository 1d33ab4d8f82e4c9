package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/RitualChain/rag-data-pipeline/internal/vectorstore"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return root
}

func loadDocs(t *testing.T, cfg DirectoryConfig) map[string]vectorstore.Document {
	t.Helper()
	src, err := NewDirectorySource(cfg, nil)
	if err != nil {
		t.Fatalf("NewDirectorySource() error = %v", err)
	}
	docs, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	byID := make(map[string]vectorstore.Document, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}
	return byID
}

func TestDirectorySource_Load(t *testing.T) {
	root := writeTree(t, map[string]string{
		"readme.md":                 "# Hello",
		"main.go":                   "package main",
		"docs/guide.md":             "installation guide",
		"node_modules/pkg/index.js": "module.exports = {}",
		"vendor/dep/dep.go":         "package dep",
	})

	docs := loadDocs(t, DirectoryConfig{Root: root})
	if len(docs) != 3 {
		t.Fatalf("Load() returned %d documents, want 3: %v", len(docs), docs)
	}

	guideID := filepath.Join("docs", "guide.md")
	doc, ok := docs[guideID]
	if !ok {
		t.Fatalf("document %q not loaded", guideID)
	}
	if doc.Content != "installation guide" {
		t.Errorf("Content = %q", doc.Content)
	}
	if doc.Metadata["path"] != guideID {
		t.Errorf("Metadata[path] = %v, want %q", doc.Metadata["path"], guideID)
	}
	if doc.Metadata["extension"] != ".md" {
		t.Errorf("Metadata[extension] = %v, want .md", doc.Metadata["extension"])
	}
	if doc.Metadata["size"] != int64(len("installation guide")) {
		t.Errorf("Metadata[size] = %v", doc.Metadata["size"])
	}
}

func TestDirectorySource_IncludePatterns(t *testing.T) {
	root := writeTree(t, map[string]string{
		"readme.md":     "readme",
		"main.go":       "package main",
		"docs/guide.md": "guide",
	})

	docs := loadDocs(t, DirectoryConfig{Root: root, IncludePatterns: []string{"*.md"}})
	if len(docs) != 2 {
		t.Fatalf("Load() returned %d documents, want 2: %v", len(docs), docs)
	}
	if _, ok := docs["main.go"]; ok {
		t.Error("main.go should not match include pattern *.md")
	}
}

func TestDirectorySource_ExcludePatterns(t *testing.T) {
	root := writeTree(t, map[string]string{
		"readme.md":     "readme",
		"main.go":       "package main",
		"docs/guide.md": "guide",
		"docs/notes.md": "notes",
	})

	t.Run("by extension", func(t *testing.T) {
		docs := loadDocs(t, DirectoryConfig{Root: root, ExcludePatterns: []string{"*.go"}})
		if _, ok := docs["main.go"]; ok {
			t.Error("main.go should be excluded")
		}
		if len(docs) != 3 {
			t.Errorf("Load() returned %d documents, want 3", len(docs))
		}
	})

	t.Run("by subtree", func(t *testing.T) {
		docs := loadDocs(t, DirectoryConfig{Root: root, ExcludePatterns: []string{"docs/**"}})
		if len(docs) != 2 {
			t.Fatalf("Load() returned %d documents, want 2: %v", len(docs), docs)
		}
		if _, ok := docs[filepath.Join("docs", "guide.md")]; ok {
			t.Error("docs subtree should be excluded")
		}
	})

	t.Run("exclude wins over include", func(t *testing.T) {
		docs := loadDocs(t, DirectoryConfig{
			Root:            root,
			IncludePatterns: []string{"*.md"},
			ExcludePatterns: []string{"readme.md"},
		})
		if _, ok := docs["readme.md"]; ok {
			t.Error("readme.md should be excluded despite matching the include pattern")
		}
	})
}

func TestDirectorySource_SkipsBinaryFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"text.md":   "plain text",
		"image.png": "\xff\xd8\xfe\x00binary",
	})

	docs := loadDocs(t, DirectoryConfig{Root: root})
	if len(docs) != 1 {
		t.Fatalf("Load() returned %d documents, want 1", len(docs))
	}
	if _, ok := docs["image.png"]; ok {
		t.Error("binary file should be skipped")
	}
}

func TestDirectorySource_SizeLimit(t *testing.T) {
	root := writeTree(t, map[string]string{
		"small.txt": "tiny",
		"large.txt": "this file body exceeds the ten byte limit",
	})

	docs := loadDocs(t, DirectoryConfig{Root: root, MaxFileSize: 10})
	if len(docs) != 1 {
		t.Fatalf("Load() returned %d documents, want 1", len(docs))
	}
	if _, ok := docs["large.txt"]; ok {
		t.Error("oversized file should be skipped")
	}
}

func TestNewDirectorySource_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  DirectoryConfig
		wantErr bool
	}{
		{
			name:    "valid",
			config:  DirectoryConfig{Root: "."},
			wantErr: false,
		},
		{
			name:    "empty root",
			config:  DirectoryConfig{},
			wantErr: true,
		},
		{
			name:    "max file size over ceiling",
			config:  DirectoryConfig{Root: ".", MaxFileSize: 11 * 1024 * 1024},
			wantErr: true,
		},
		{
			name:    "bad include pattern",
			config:  DirectoryConfig{Root: ".", IncludePatterns: []string{"[unclosed"}},
			wantErr: true,
		},
		{
			name:    "bad exclude pattern",
			config:  DirectoryConfig{Root: ".", ExcludePatterns: []string{"[unclosed"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDirectorySource(tt.config, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewDirectorySource() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDirectorySource_DefaultMaxFileSize(t *testing.T) {
	src, err := NewDirectorySource(DirectoryConfig{Root: "."}, nil)
	if err != nil {
		t.Fatalf("NewDirectorySource() error = %v", err)
	}
	if src.config.MaxFileSize != DefaultMaxFileSize {
		t.Errorf("MaxFileSize = %d, want %d", src.config.MaxFileSize, DefaultMaxFileSize)
	}
}

func TestDirectorySource_MissingRoot(t *testing.T) {
	src, err := NewDirectorySource(DirectoryConfig{Root: filepath.Join(t.TempDir(), "nope")}, nil)
	if err != nil {
		t.Fatalf("NewDirectorySource() error = %v", err)
	}
	if _, err := src.Load(context.Background()); err == nil {
		t.Fatal("Load() expected error for missing root")
	}
}

func TestDirectorySource_RootIsFile(t *testing.T) {
	root := writeTree(t, map[string]string{"file.txt": "content"})
	src, err := NewDirectorySource(DirectoryConfig{Root: filepath.Join(root, "file.txt")}, nil)
	if err != nil {
		t.Fatalf("NewDirectorySource() error = %v", err)
	}
	if _, err := src.Load(context.Background()); err == nil {
		t.Fatal("Load() expected error for non-directory root")
	}
}

func TestDirectorySource_ContextCancellation(t *testing.T) {
	root := writeTree(t, map[string]string{"file.txt": "content"})
	src, err := NewDirectorySource(DirectoryConfig{Root: root}, nil)
	if err != nil {
		t.Fatalf("NewDirectorySource() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := src.Load(ctx); err == nil {
		t.Fatal("Load() expected error for cancelled context")
	}
}

func TestDirectorySource_GitProvenance(t *testing.T) {
	root := writeTree(t, map[string]string{"notes.md": "release notes"})

	repo, err := git.PlainInit(root, false)
	if err != nil {
		t.Fatalf("git init: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if _, err := wt.Add("notes.md"); err != nil {
		t.Fatalf("git add: %v", err)
	}
	commit, err := wt.Commit("add notes", &git.CommitOptions{
		Author: &object.Signature{Name: "Tester", Email: "tester@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("git commit: %v", err)
	}

	docs := loadDocs(t, DirectoryConfig{Root: root})
	if len(docs) != 1 {
		t.Fatalf("Load() returned %d documents, want 1 (.git must be skipped)", len(docs))
	}

	doc := docs["notes.md"]
	if doc.Metadata["git_commit"] != commit.String() {
		t.Errorf("Metadata[git_commit] = %v, want %s", doc.Metadata["git_commit"], commit)
	}
	branch, ok := doc.Metadata["git_branch"].(string)
	if !ok || branch == "" {
		t.Errorf("Metadata[git_branch] = %v, want current branch name", doc.Metadata["git_branch"])
	}
}

func TestDirectorySource_NoGitMetadataOutsideWorkTree(t *testing.T) {
	root := writeTree(t, map[string]string{"plain.txt": "content"})

	docs := loadDocs(t, DirectoryConfig{Root: root})
	doc := docs["plain.txt"]
	if _, ok := doc.Metadata["git_commit"]; ok {
		t.Error("git_commit should be absent outside a git work tree")
	}
	if _, ok := doc.Metadata["git_branch"]; ok {
		t.Error("git_branch should be absent outside a git work tree")
	}
}

func TestDirectorySource_Name(t *testing.T) {
	src, err := NewDirectorySource(DirectoryConfig{Root: "."}, nil)
	if err != nil {
		t.Fatalf("NewDirectorySource() error = %v", err)
	}
	if got := src.Name(); got != "directory" {
		t.Errorf("Name() = %q, want directory", got)
	}
}
