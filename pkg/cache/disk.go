package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"equityfeed/pkg/market"
)

const (
	artifactExt   = ".msgpack"
	quarantineDir = "quarantine"
	backupPrefix  = "backup_"
)

// DiskTier persists one msgpack artifact per fingerprint under a root directory.
type DiskTier struct {
	root string
}

// NewDiskTier creates the root directory if needed.
func NewDiskTier(root string) (*DiskTier, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("cache: disk root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("cache: resolve %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create %s: %w", abs, err)
	}
	return &DiskTier{root: abs}, nil
}

// Name implements Tier.
func (d *DiskTier) Name() string { return "disk" }

// Root returns the absolute cache directory.
func (d *DiskTier) Root() string { return d.root }

// PathFor maps a fingerprint to its artifact path. The directory lives at the root;
// other kinds get one file per subject (and date range) inside a per-kind folder.
// Components are escaped so distinct fingerprints never share a file.
func (d *DiskTier) PathFor(fingerprint string) string {
	parts := strings.Split(fingerprint, "|")
	kind := parts[0]
	if len(parts) == 1 {
		return filepath.Join(d.root, kind+artifactExt)
	}
	names := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		names = append(names, escapePart(p))
	}
	return filepath.Join(d.root, kind, strings.Join(names, "_")+artifactExt)
}

// FingerprintForPath is the best-effort inverse of PathFor, used for artifacts that no
// longer decode.
func (d *DiskTier) FingerprintForPath(path string) (string, bool) {
	rel, err := filepath.Rel(d.root, path)
	if err != nil || !strings.HasSuffix(rel, artifactExt) {
		return "", false
	}
	rel = strings.TrimSuffix(filepath.ToSlash(rel), artifactExt)
	dir, name := filepath.Split(rel)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		if market.Kind(name).Valid() && !market.Kind(name).HasSubject() {
			return name, true
		}
		return "", false
	}
	kind := market.Kind(dir)
	if !kind.Valid() || !kind.HasSubject() {
		return "", false
	}
	fields := strings.Split(name, "_")
	parts := []string{string(kind)}
	for _, f := range fields {
		p, ok := unescapePart(f)
		if !ok {
			return "", false
		}
		parts = append(parts, p)
	}
	want := 2
	if kind == market.KindPriceHistory {
		want = 5
	}
	if len(parts) != want {
		return "", false
	}
	return strings.Join(parts, "|"), true
}

// KindForPath returns the kind an artifact path belongs to.
func (d *DiskTier) KindForPath(path string) (market.Kind, bool) {
	fp, ok := d.FingerprintForPath(path)
	if !ok {
		return "", false
	}
	return market.Kind(strings.SplitN(fp, "|", 2)[0]), true
}

// Load implements Tier.
func (d *DiskTier) Load(_ context.Context, fingerprint string) (*Entry, error) {
	path := d.PathFor(fingerprint)
	entry, err := d.ReadPath(path)
	if err != nil {
		return nil, err
	}
	if entry.Fingerprint != fingerprint {
		// Belongs to another key; the guardian reports it on the next check.
		return nil, ErrNotFound
	}
	return entry, nil
}

// ReadPath decodes the artifact at path.
func (d *DiskTier) ReadPath(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cache: read %s: %w", path, err)
	}
	entry, err := decodeEntry(data)
	if err != nil {
		return nil, &CorruptionError{Path: path, Err: err}
	}
	return entry, nil
}

// Save implements Tier. The artifact is replaced atomically.
func (d *DiskTier) Save(_ context.Context, entry *Entry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	return writeAtomic(d.PathFor(entry.Fingerprint), data)
}

// Delete implements Tier.
func (d *DiskTier) Delete(_ context.Context, fingerprint string) error {
	err := os.Remove(d.PathFor(fingerprint))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cache: delete %s: %w", fingerprint, err)
	}
	return nil
}

// List returns every live artifact path, excluding quarantine and backup folders.
func (d *DiskTier) List() ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(d.root), "**/*"+artifactExt)
	if err != nil {
		return nil, fmt.Errorf("cache: list %s: %w", d.root, err)
	}
	out := make([]string, 0, len(matches))
	for _, rel := range matches {
		top := strings.SplitN(rel, "/", 2)[0]
		if top == quarantineDir || strings.HasPrefix(top, backupPrefix) {
			continue
		}
		out = append(out, filepath.Join(d.root, filepath.FromSlash(rel)))
	}
	sort.Strings(out)
	return out, nil
}

// ListKind returns the live artifact paths for one kind.
func (d *DiskTier) ListKind(kind market.Kind) ([]string, error) {
	all, err := d.List()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if k, ok := d.KindForPath(p); ok && k == kind {
			out = append(out, p)
		}
	}
	return out, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("cache: temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("cache: rename %s: %w", path, err)
	}
	return nil
}

const emptyPart = "~"

// escapePart keeps [A-Za-z0-9.-] and percent-encodes every other byte, so the "_"
// separator and "~" never occur inside an escaped component.
func escapePart(part string) string {
	if part == "" {
		return emptyPart
	}
	var b strings.Builder
	for i := 0; i < len(part); i++ {
		c := part[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '.':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func unescapePart(name string) (string, bool) {
	if name == emptyPart {
		return "", true
	}
	part, err := url.PathUnescape(name)
	if err != nil {
		return "", false
	}
	return part, escapePart(part) == name
}
