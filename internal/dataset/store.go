package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"ledgersheet/internal/core"
	"ledgersheet/internal/log"
)

// Extension of every dataset file.
const Extension = ".xlsx"

var validName = regexp.MustCompile(`^[\p{L}\p{N}_\-. ]+$`)

// Store keeps one xlsx file per named dataset under a base directory.
// Every load-modify-save on a path runs under that path's lock.
type Store struct {
	dir    string
	schema core.Schema
	locks  *pathLocks
	logger *log.Logger
	sl     *log.StructuredLogger
}

// NewStore creates a store rooted at dir. schema is used to materialize
// datasets that Append finds absent.
func NewStore(dir string, schema core.Schema, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentDataset)
	return &Store{
		dir:    dir,
		schema: schema,
		locks:  newPathLocks(),
		logger: logger,
		sl:     log.NewStructuredLogger(logger),
	}
}

// Dir returns the base directory.
func (s *Store) Dir() string { return s.dir }

// Schema returns the column schema used for new datasets.
func (s *Store) Schema() core.Schema { return s.schema }

// ValidateName rejects names that could escape the base directory.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return core.Validationf("dataset name is required")
	}
	if name == "." || name == ".." || strings.Contains(name, "..") || !validName.MatchString(name) {
		return core.Validationf("invalid dataset name %q", name)
	}
	return nil
}

// Path returns the file backing the named dataset.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+Extension)
}

// Exists reports whether the dataset file is present.
func (s *Store) Exists(name string) bool {
	st, err := os.Stat(s.Path(name))
	return err == nil && !st.IsDir()
}

// List returns the names of the datasets present, sorted. A missing base
// directory holds no datasets.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, core.StorageErr("list "+s.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Extension) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), Extension)
		if ValidateName(name) == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Load decodes the named dataset. A missing file is core.ErrNotFound.
func (s *Store) Load(ctx context.Context, name string) (*core.Dataset, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	path := s.Path(name)
	unlock := s.locks.acquire(path)
	defer unlock()
	return s.load(ctx, name, path)
}

func (s *Store) load(ctx context.Context, name, path string) (*core.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.NotFoundf("dataset %q not found", name)
	}
	if err != nil {
		return nil, core.StorageErr("read "+path, err)
	}
	ds, err := ReadXLSX(bytes.NewReader(data), name)
	if err != nil {
		return nil, core.StorageErr("decode "+path, err)
	}
	s.logger.DebugContext(ctx, "Dataset loaded", log.NewFields().WithDataset(name, path, len(ds.Rows)).ToSlice()...)
	return ds, nil
}

// Append merges shared into every row, appends the rows, and overwrites the
// file once. An absent dataset is created with the schema's columns. Nothing
// is written if any row fails validation.
func (s *Store) Append(ctx context.Context, name string, rows []core.Row, shared core.Row) (*core.Dataset, error) {
	if len(rows) == 0 {
		return nil, core.Validationf("no rows to append")
	}
	return s.Update(ctx, name, func(ds *core.Dataset, existed bool) error {
		if _, err := s.schema.Migrate(ds); err != nil {
			return err
		}
		for i, r := range rows {
			merged := make(core.Row, len(r)+len(shared))
			for k, v := range shared {
				merged[k] = v
			}
			for k, v := range r {
				merged[k] = v
			}
			if err := s.schema.CheckRequired(merged); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			if err := ds.AppendRow(merged); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
		}
		return nil
	})
}

// Update loads the dataset, or materializes an empty schema dataset when the
// file is absent, applies fn and writes the result. fn sees existed=false for
// a new dataset. An error from fn leaves the file untouched.
func (s *Store) Update(ctx context.Context, name string, fn func(ds *core.Dataset, existed bool) error) (*core.Dataset, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	path := s.Path(name)
	unlock := s.locks.acquire(path)
	defer unlock()

	ds, err := s.load(ctx, name, path)
	existed := true
	if errors.Is(err, core.ErrNotFound) {
		ds, existed = s.schema.NewDataset(name), false
	} else if err != nil {
		return nil, err
	}

	if err := fn(ds, existed); err != nil {
		return nil, err
	}
	if err := s.write(ctx, path, ds); err != nil {
		return nil, err
	}
	s.sl.LogDatasetWritten(ctx, log.OpAppend, name, path, len(ds.Rows))
	return ds, nil
}

// Save overwrites the named dataset with ds.
func (s *Store) Save(ctx context.Context, ds *core.Dataset) error {
	if err := ValidateName(ds.Name); err != nil {
		return err
	}
	path := s.Path(ds.Name)
	unlock := s.locks.acquire(path)
	defer unlock()

	if err := s.write(ctx, path, ds); err != nil {
		return err
	}
	s.sl.LogDatasetWritten(ctx, log.OpSave, ds.Name, path, len(ds.Rows))
	return nil
}

// Derive loads base, applies fn to a copy renamed to target and saves it
// as target. base is left as it was unless it is the target itself, in which
// case the whole cycle runs under one lock.
func (s *Store) Derive(ctx context.Context, base, target string, fn func(ds *core.Dataset) error) (*core.Dataset, error) {
	if base == target {
		return s.Update(ctx, target, func(ds *core.Dataset, existed bool) error {
			if !existed {
				return core.NotFoundf("dataset %q not found", base)
			}
			return fn(ds)
		})
	}
	src, err := s.Load(ctx, base)
	if err != nil {
		return nil, err
	}
	ds := src.Clone()
	ds.Name = target
	if err := fn(ds); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// write encodes ds in memory and replaces path with it. Readers see either
// the old file or the new one.
func (s *Store) write(ctx context.Context, path string, ds *core.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, ds); err != nil {
		return core.StorageErr("encode "+path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return core.StorageErr("create directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return core.StorageErr("create temp file", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return core.StorageErr("write "+tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return core.StorageErr("sync "+tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return core.StorageErr("close "+tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return core.StorageErr("replace "+path, err)
	}
	committed = true
	return nil
}
