package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/couchcryptid/building-motion-etl/internal/domain"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentReads bounds the number of files read at once.
const maxConcurrentReads = 8

// Source reads a dataset from a directory: the node mapping file plus every
// direction export next to it.
type Source struct {
	fsys    fs.FS
	mapping string
	logger  *slog.Logger
}

// NewSource creates a Source rooted at dir.
func NewSource(dir, mappingFile string, logger *slog.Logger) *Source {
	return NewSourceFS(os.DirFS(dir), mappingFile, logger)
}

// NewSourceFS creates a Source over an arbitrary file system.
func NewSourceFS(fsys fs.FS, mappingFile string, logger *slog.Logger) *Source {
	return &Source{fsys: fsys, mapping: mappingFile, logger: logger}
}

// Fetch reads the mapping and all direction files concurrently.
func (s *Source) Fetch(ctx context.Context) (domain.Dataset, error) {
	names, err := s.directionFiles()
	if err != nil {
		return domain.Dataset{}, err
	}

	var (
		mu      sync.Mutex
		mapping string
		files   = make(map[string]string, len(names))
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)

	g.Go(func() error {
		text, err := s.read(ctx, s.mapping)
		if err != nil {
			return err
		}
		mapping = text
		return nil
	})
	for _, name := range names {
		g.Go(func() error {
			text, err := s.read(ctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			files[name] = text
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return domain.Dataset{}, err
	}

	s.logger.Debug("dataset read", "mapping", s.mapping, "files", len(files))
	return domain.Dataset{Mapping: mapping, Directions: files}, nil
}

func (s *Source) directionFiles() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("list data dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == s.mapping {
			continue
		}
		if isDirectionFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Source) read(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read %s: file not found: %w", name, err)
		}
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(b), nil
}

// isDirectionFile selects <prefix>_<H1|H2|V>_<suffix> exports.
func isDirectionFile(name string) bool {
	_, err := domain.ParseDirection(name)
	return err == nil
}
