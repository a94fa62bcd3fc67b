package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const versionLayout = "20060102150405"

const scaffoldHeader = `-- %s
-- Version: %s
-- %s
`

// Pair is a freshly scaffolded up/down migration
type Pair struct {
	Version  uint64
	Name     string
	UpPath   string
	DownPath string
}

// Scaffold writes an empty up/down pair named name into dir. The version is
// the timestamp now, bumped past the newest existing version so a skewed
// clock cannot reorder the history. A name already used in dir is refused.
func Scaffold(dir, name, description string, now time.Time) (*Pair, error) {
	slug := slugify(name)
	if slug == "" {
		return nil, fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create migrations directory: %w", err)
	}

	existing, err := ListMigrations(os.DirFS(dir))
	if err != nil {
		return nil, err
	}
	version, _ := strconv.ParseUint(now.UTC().Format(versionLayout), 10, 64)
	for _, base := range existing {
		if _, existingSlug, _ := strings.Cut(base, "_"); existingSlug == slug {
			return nil, fmt.Errorf("migration %q already exists as %s", slug, base)
		}
		if v, _ := versionOf(base); v >= version {
			version = v + 1
		}
	}

	base := fmt.Sprintf("%d_%s", version, slug)
	p := &Pair{
		Version:  version,
		Name:     slug,
		UpPath:   filepath.Join(dir, base+".up.sql"),
		DownPath: filepath.Join(dir, base+".down.sql"),
	}
	if description == "" {
		description = name
	}
	if err := writeNew(p.UpPath, fmt.Sprintf(scaffoldHeader, base, strconv.FormatUint(version, 10), description)); err != nil {
		return nil, err
	}
	if err := writeNew(p.DownPath, fmt.Sprintf(scaffoldHeader, base+" (rollback)", strconv.FormatUint(version, 10), "Reverts: "+description)); err != nil {
		_ = os.Remove(p.UpPath)
		return nil, err
	}
	return p, nil
}

func writeNew(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// slugify lower-cases name and joins its words with underscores, dropping
// anything that is not an ASCII letter or digit
func slugify(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Map(func(r rune) rune {
			if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
				return -1
			}
			return unicode.ToLower(r)
		}, w)
		if w != "" {
			out = append(out, w)
		}
	}
	return strings.Join(out, "_")
}

// ListMigrations returns the base names of the versioned up migrations in
// fsys, oldest first. A missing directory has none.
func ListMigrations(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	out := []string{}
	for _, e := range entries {
		base, ok := strings.CutSuffix(e.Name(), ".up.sql")
		if e.IsDir() || !ok {
			continue
		}
		if _, ok := versionOf(base); ok {
			out = append(out, base)
		}
	}
	slices.SortFunc(out, func(a, b string) int {
		va, _ := versionOf(a)
		vb, _ := versionOf(b)
		switch {
		case va < vb:
			return -1
		case va > vb:
			return 1
		}
		return 0
	})
	return out, nil
}

// versionOf parses the numeric prefix of a migration base name
func versionOf(base string) (uint64, bool) {
	prefix, _, _ := strings.Cut(base, "_")
	v, err := strconv.ParseUint(prefix, 10, 64)
	return v, err == nil
}
