package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/siherrmann/mailrank/helper"
	"github.com/siherrmann/mailrank/model"
)

// DocumentSource supplies raw documents to the ingestor. Listing is
// prefix-scoped so a batch run can reprocess a whole subtree.
type DocumentSource interface {
	ListDocuments(ctx context.Context, prefix string) ([]string, error)
	ReadDocument(ctx context.Context, path string) (*model.Document, error)
}

// LocalSource reads documents from a directory tree on disk
type LocalSource struct {
	root       string
	extensions map[string]bool
}

// NewLocalSource creates a document source over a local directory.
// Only files with the given extensions are listed; with none given,
// .txt and .md files are used.
func NewLocalSource(root string, extensions ...string) (*LocalSource, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, helper.NewError("open local source", err)
	}
	if !info.IsDir() {
		return nil, helper.NewError("open local source", fmt.Errorf("%v is not a directory", root))
	}

	if len(extensions) == 0 {
		extensions = []string{".txt", ".md"}
	}
	allowed := make(map[string]bool, len(extensions))
	for _, extension := range extensions {
		allowed[strings.ToLower(extension)] = true
	}

	return &LocalSource{
		root:       root,
		extensions: allowed,
	}, nil
}

// ListDocuments returns the relative paths of all matching files under
// the prefix, sorted for deterministic batch runs.
func (s *LocalSource) ListDocuments(ctx context.Context, prefix string) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(s.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			return nil
		}
		if !s.extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		relative, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		relative = filepath.ToSlash(relative)
		if prefix != "" && !strings.HasPrefix(relative, prefix) {
			return nil
		}

		paths = append(paths, relative)
		return nil
	})
	if err != nil {
		return nil, helper.NewError("list local documents", err)
	}

	sort.Strings(paths)
	return paths, nil
}

// ReadDocument reads a single document by its relative path
func (s *LocalSource) ReadDocument(ctx context.Context, path string) (*model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, helper.NewError("read local document", err)
	}

	content, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(path)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, helper.NewError("read local document", fmt.Errorf("%v: %w", path, helper.ErrNotFound))
		}
		return nil, helper.NewError("read local document", err)
	}

	return &model.Document{
		Path:    path,
		Content: string(content),
	}, nil
}
