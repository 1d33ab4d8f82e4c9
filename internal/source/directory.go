package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	git "github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/RitualChain/rag-data-pipeline/internal/rag"
	"github.com/RitualChain/rag-data-pipeline/internal/vectorstore"
)

const (
	// DefaultMaxFileSize is applied when DirectoryConfig.MaxFileSize
	// is zero.
	DefaultMaxFileSize = 1024 * 1024 // 1MB

	// maxFileSizeLimit is the hard ceiling for MaxFileSize.
	maxFileSizeLimit = 10 * 1024 * 1024 // 10MB
)

// defaultSkipDirs are directory names never worth loading.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true,
}

// DirectoryConfig configures a DirectorySource.
type DirectoryConfig struct {
	// Root is the directory tree to walk.
	Root string

	// IncludePatterns are glob patterns for files to include
	// (e.g. ["*.md", "*.go"]). If empty, all files are included,
	// subject to exclude patterns and the size limit.
	IncludePatterns []string

	// ExcludePatterns are glob patterns for files to exclude
	// (e.g. ["*.log", "docs/**"]). Takes precedence over includes.
	ExcludePatterns []string

	// MaxFileSize is the maximum file size in bytes to load.
	// Default: 1MB, maximum: 10MB.
	MaxFileSize int64
}

// DirectorySource walks a directory tree and turns every text file
// that survives the filters into a document. Binary files (invalid
// UTF-8) and well-known VCS/dependency directories are skipped.
type DirectorySource struct {
	config DirectoryConfig
	logger *zap.Logger
}

// NewDirectorySource validates the pattern and size configuration and
// creates the source. The root path itself is checked at Load time.
func NewDirectorySource(config DirectoryConfig, logger *zap.Logger) (*DirectorySource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Root == "" {
		return nil, fmt.Errorf("root cannot be empty")
	}
	if config.MaxFileSize == 0 {
		config.MaxFileSize = DefaultMaxFileSize
	}
	if config.MaxFileSize > maxFileSizeLimit {
		return nil, fmt.Errorf("max_file_size cannot exceed 10MB")
	}
	if err := validatePatterns(config.IncludePatterns); err != nil {
		return nil, fmt.Errorf("invalid include pattern: %w", err)
	}
	if err := validatePatterns(config.ExcludePatterns); err != nil {
		return nil, fmt.Errorf("invalid exclude pattern: %w", err)
	}
	return &DirectorySource{config: config, logger: logger}, nil
}

// Name identifies the source in logs and ingest responses.
func (s *DirectorySource) Name() string { return "directory" }

// Load walks the tree under Root and returns one document per text
// file. Document IDs are root-relative paths; when Root is a git work
// tree, every document additionally carries the current commit and
// branch as provenance metadata.
func (s *DirectorySource) Load(ctx context.Context) ([]vectorstore.Document, error) {
	root, err := validateRoot(s.config.Root)
	if err != nil {
		return nil, fmt.Errorf("invalid root: %w", err)
	}

	gitCommit, gitBranch := gitProvenance(root)

	var docs []vectorstore.Document
	skipped := 0

	err = filepath.Walk(root, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if defaultSkipDirs[filepath.Base(filePath)] {
				return filepath.SkipDir
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		relPath, err := filepath.Rel(root, filePath)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}

		if !s.shouldInclude(relPath, info) {
			skipped++
			return nil
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("reading file %s: %w", filePath, err)
		}

		// Binary files cannot be embedded as text.
		if !utf8.Valid(content) {
			skipped++
			return nil
		}

		metadata := map[string]any{
			"path":      relPath,
			"extension": filepath.Ext(relPath),
			"size":      info.Size(),
		}
		if gitCommit != "" {
			metadata["git_commit"] = gitCommit
		}
		if gitBranch != "" {
			metadata["git_branch"] = gitBranch
		}

		docs = append(docs, vectorstore.Document{
			ID:       relPath,
			Content:  string(content),
			Metadata: metadata,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking file tree: %w", err)
	}

	s.logger.Info("loaded directory tree",
		zap.String("root", root),
		zap.Int("documents", len(docs)),
		zap.Int("skipped", skipped))

	return docs, nil
}

// shouldInclude applies the size limit and the exclude/include
// pattern filters. Exclude patterns take precedence.
func (s *DirectorySource) shouldInclude(relPath string, info os.FileInfo) bool {
	basename := filepath.Base(relPath)

	if info.Size() > s.config.MaxFileSize {
		return false
	}

	for _, pattern := range s.config.ExcludePatterns {
		if matched, _ := filepath.Match(pattern, basename); matched {
			return false
		}
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return false
		}
		// Directory patterns like "docs/**" exclude the whole subtree.
		if strings.Contains(pattern, "**") {
			prefix := strings.TrimSuffix(pattern, "/**")
			if strings.HasPrefix(relPath, prefix+string(filepath.Separator)) {
				return false
			}
		}
	}

	if len(s.config.IncludePatterns) > 0 {
		included := false
		for _, pattern := range s.config.IncludePatterns {
			if matched, _ := filepath.Match(pattern, basename); matched {
				included = true
				break
			}
			if matched, _ := filepath.Match(pattern, relPath); matched {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}

	return true
}

// validateRoot cleans the root path and requires an existing directory.
func validateRoot(path string) (string, error) {
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("path does not exist: %s", cleanPath)
		}
		return "", fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path must be a directory: %s", cleanPath)
	}
	return cleanPath, nil
}

// validatePatterns validates glob patterns.
func validatePatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// gitProvenance reads the current commit and branch when root is a
// git work tree. A detached HEAD yields a commit but no branch; a
// non-git root yields neither.
func gitProvenance(root string) (commit, branch string) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return "", ""
	}
	head, err := repo.Head()
	if err != nil {
		return "", ""
	}
	commit = head.Hash().String()
	if head.Name().IsBranch() {
		branch = head.Name().Short()
	}
	return commit, branch
}

var _ rag.Source = (*DirectorySource)(nil)
