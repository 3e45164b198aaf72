package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SourceFile describes one SDL document that contributes to the model.
type SourceFile struct {
	Name     string
	FilePath string
}

// Source lists and reads the SDL documents a model is built from.
type Source interface {
	ListFiles(ctx context.Context) ([]*SourceFile, error)
	ReadSDL(ctx context.Context, name string) (string, error)
}

type InMemoryFile struct {
	Name    string
	Content string
}

// InMemorySource is a Source backed by strings, used by tests and fixtures.
type InMemorySource struct {
	files    []*SourceFile
	contents map[string]string
}

func NewInMemorySource(files []InMemoryFile) *InMemorySource {
	src := &InMemorySource{contents: make(map[string]string)}
	for _, f := range files {
		path := f.Name
		if !strings.HasSuffix(path, ".graphql") {
			path += ".graphql"
		}
		src.files = append(src.files, &SourceFile{Name: f.Name, FilePath: path})
		src.contents[f.Name] = f.Content
	}
	return src
}

func (s *InMemorySource) ListFiles(ctx context.Context) ([]*SourceFile, error) {
	return s.files, nil
}

func (s *InMemorySource) ReadSDL(ctx context.Context, name string) (string, error) {
	content, ok := s.contents[name]
	if !ok {
		return "", fmt.Errorf("model file %q not found", name)
	}
	return content, nil
}

// FileSystemSource implements Source for every .graphql file under a root directory.
type FileSystemSource struct {
	files []*SourceFile
	paths map[string]string
}

// NewFileSystemSource walks rootDir collecting .graphql files.
func NewFileSystemSource(ctx context.Context, rootDir string) (*FileSystemSource, error) {
	src := &FileSystemSource{paths: make(map[string]string)}

	err := filepath.WalkDir(rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(d.Name()) != ".graphql" {
			return nil
		}
		relPath, err := filepath.Rel(rootDir, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %q: %w", path, err)
		}
		name := strings.TrimSuffix(filepath.ToSlash(relPath), ".graphql")
		src.paths[name] = path
		src.files = append(src.files, &SourceFile{Name: name, FilePath: relPath})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk root directory %q: %w", rootDir, err)
	}
	sort.Slice(src.files, func(i, j int) bool { return src.files[i].Name < src.files[j].Name })
	return src, nil
}

func (s *FileSystemSource) ListFiles(ctx context.Context) ([]*SourceFile, error) {
	return s.files, nil
}

func (s *FileSystemSource) ReadSDL(ctx context.Context, name string) (string, error) {
	fp, ok := s.paths[name]
	if !ok {
		return "", fmt.Errorf("model file %q not found", name)
	}
	content, err := os.ReadFile(fp)
	if err != nil {
		return "", fmt.Errorf("failed to read model SDL for %q: %w", name, err)
	}
	return string(content), nil
}

// Load is a convenience function that builds a model from every .graphql file under rootDir.
func Load(rootDir string) (*Model, error) {
	src, err := NewFileSystemSource(context.Background(), rootDir)
	if err != nil {
		return nil, err
	}
	return Build(context.Background(), src)
}
