package chart

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"ledgersheet/internal/core"
	"ledgersheet/internal/log"
)

// FileName maps a column name to its PNG name: accents stripped, lower case,
// runs of anything but letters and digits collapsed to one underscore.
func FileName(column string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, column)
	if err != nil {
		plain = column
	}

	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(plain) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	if b.Len() == 0 {
		return "column.png"
	}
	return b.String() + ".png"
}

// WriteDir renders every numeric column of ds into dir and returns the file
// paths in column order. Names that collide get a numeric suffix.
func (r *Renderer) WriteDir(ctx context.Context, ds *core.Dataset, dir string) ([]string, error) {
	images, err := r.Render(ctx, ds)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, core.StorageErr("create chart directory", err)
	}

	used := make(map[string]int, len(images))
	paths := make([]string, 0, len(images))
	for _, img := range images {
		name := FileName(img.Column)
		if n := used[name]; n > 0 {
			used[name] = n + 1
			name = fmt.Sprintf("%s_%d.png", strings.TrimSuffix(name, ".png"), n+1)
		} else {
			used[name] = 1
		}
		path := filepath.Join(dir, name)
		if err := replaceFile(path, img.PNG); err != nil {
			return nil, core.StorageErr("write chart "+path, err)
		}
		paths = append(paths, path)
	}

	r.logger.InfoContext(ctx, "Charts written",
		log.FieldDataset, ds.Name,
		log.FieldCharts, len(paths),
		"directory", dir)
	return paths, nil
}

// replaceFile writes data next to path and renames it into place, so a
// concurrent reader sees the old image or the new one, never a partial file.
func replaceFile(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
