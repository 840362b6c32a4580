package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"equityfeed/pkg/market"
)

const (
	timestampLayout     = "20060102_150405"
	defaultSyntheticTTL = time.Hour
	// SyntheticSource marks directory entries rebuilt without any upstream.
	SyntheticSource = "synthetic"
)

// PayloadValidator re-validates a decoded payload, usually normalize.Normalizer.Validate.
type PayloadValidator func(*market.Payload) error

// RefetchFunc re-acquires one fingerprint bypassing the cache.
type RefetchFunc func(ctx context.Context, fingerprint string) error

// Issue describes one artifact that failed validation.
type Issue struct {
	Path        string      `json:"path"`
	Kind        market.Kind `json:"kind,omitempty"`
	Problem     string      `json:"problem"`
	Quarantined string      `json:"quarantined,omitempty"`
}

// Report is the result of a full integrity check.
type Report struct {
	Valid   bool    `json:"valid"`
	Checked int     `json:"checked"`
	Issues  []Issue `json:"issues"`
}

// RepairResult summarises Repair for one kind.
type RepairResult struct {
	Kind        market.Kind `json:"kind"`
	Checked     int         `json:"checked"`
	Quarantined []string    `json:"quarantined,omitempty"`
	Refetched   []string    `json:"refetched,omitempty"`
	Failed      []string    `json:"failed,omitempty"`
	Synthetic   bool        `json:"synthetic"`
}

// Guardian validates persisted artifacts, quarantines corrupted ones into timestamped
// backups and rebuilds the symbol directory when nothing else is available.
type Guardian struct {
	store            *Store
	disk             *DiskTier
	validate         PayloadValidator
	minDirectoryRows int
	syntheticTTL     time.Duration
	now              func() time.Time

	mu sync.Mutex
}

// GuardianOption customises a Guardian.
type GuardianOption func(*Guardian)

// WithValidator sets the payload validator applied on top of decoding.
func WithValidator(v PayloadValidator) GuardianOption {
	return func(g *Guardian) { g.validate = v }
}

// WithMinDirectoryRows sets the directory completeness threshold.
func WithMinDirectoryRows(n int) GuardianOption {
	return func(g *Guardian) {
		if n > 0 {
			g.minDirectoryRows = n
		}
	}
}

// WithSyntheticTTL sets the lifetime of a synthetic directory entry.
func WithSyntheticTTL(ttl time.Duration) GuardianOption {
	return func(g *Guardian) {
		if ttl > 0 {
			g.syntheticTTL = ttl
		}
	}
}

// WithGuardianClock overrides the time source used for backup names.
func WithGuardianClock(now func() time.Time) GuardianOption {
	return func(g *Guardian) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuardian attaches a guardian to store. Entries loaded from any tier are checked
// with the same rules as Validate, and corrupted disk artifacts met on reads are
// quarantined automatically. The store must have a disk tier.
func NewGuardian(store *Store, opts ...GuardianOption) (*Guardian, error) {
	if store == nil || store.Disk() == nil {
		return nil, errors.New("cache: guardian requires a store with a disk tier")
	}
	g := &Guardian{
		store:            store,
		disk:             store.Disk(),
		minDirectoryRows: 1000,
		syntheticTTL:     defaultSyntheticTTL,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	store.SetEntryValidator(g.checkEntry)
	store.SetCorruptionHandler(func(ctx context.Context, err *CorruptionError) {
		if _, qerr := g.Quarantine(err.Path); qerr != nil {
			logx.WithContext(ctx).Errorf("cache guardian: quarantine %s err=%v", err.Path, qerr)
		}
	})
	return g, nil
}

// Inspect checks one artifact without touching it and returns a CorruptionError when
// it is unusable.
func (g *Guardian) Inspect(path string) error {
	entry, err := g.disk.ReadPath(path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return asCorruption(path, err)
	}
	if want := g.disk.PathFor(entry.Fingerprint); filepath.Clean(want) != filepath.Clean(path) {
		return &CorruptionError{Path: path, Err: fmt.Errorf("fingerprint %q belongs at %s", entry.Fingerprint, want)}
	}
	if err := g.checkEntry(entry); err != nil {
		return &CorruptionError{Path: path, Err: err}
	}
	return nil
}

// Validate checks one artifact and quarantines it when it is unusable, so the next
// load treats its key as absent. The returned CorruptionError carries the backup path.
func (g *Guardian) Validate(path string) error {
	err := g.Inspect(path)
	var corrupt *CorruptionError
	if !errors.As(err, &corrupt) {
		return err
	}
	logx.Errorf("cache guardian: %v", corrupt)
	backup, qerr := g.Quarantine(path)
	if qerr != nil {
		return errors.Join(corrupt, qerr)
	}
	corrupt.Backup = backup
	if fp, ok := g.disk.FingerprintForPath(path); ok {
		g.store.forget(fp)
	}
	return corrupt
}

// IsValid reports whether the artifact at path passes Validate.
func (g *Guardian) IsValid(path string) bool {
	return g.Validate(path) == nil
}

func (g *Guardian) checkEntry(entry *Entry) error {
	if entry == nil || entry.Payload == nil {
		return errors.New("entry has no payload")
	}
	if entry.Kind == market.KindSymbolDirectory {
		if err := g.checkDirectory(entry.Payload); err != nil {
			return err
		}
	}
	if g.validate != nil {
		return g.validate(entry.Payload)
	}
	return nil
}

func (g *Guardian) checkDirectory(p *market.Payload) error {
	if p.Table == nil {
		return errors.New("directory has no table")
	}
	for _, col := range []string{market.FieldCode, market.FieldName} {
		if !p.Table.HasColumn(col) {
			return fmt.Errorf("directory lacks %s column", col)
		}
	}
	if n := p.Table.Len(); n < g.minDirectoryRows {
		return fmt.Errorf("directory has %d rows, need at least %d", n, g.minDirectoryRows)
	}
	return nil
}

// Quarantine copies the artifact to quarantine/<name>.corrupted.<timestamp> and only
// then removes the original. It returns the backup path.
func (g *Guardian) Quarantine(path string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	unlock := g.store.lockWrites()
	defer unlock()
	return g.quarantineLocked(path)
}

func (g *Guardian) quarantineLocked(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("cache guardian: stat %s: %w", path, err)
	}
	dir := filepath.Join(g.disk.Root(), quarantineDir)
	name := fmt.Sprintf("%s.corrupted.%s", filepath.Base(path), g.now().Format(timestampLayout))
	backup := uniquePath(filepath.Join(dir, name))
	if err := copyFile(path, backup); err != nil {
		return "", fmt.Errorf("cache guardian: backup %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil {
		return backup, fmt.Errorf("cache guardian: remove %s: %w", path, err)
	}
	logx.Errorf("cache guardian: quarantined %s -> %s", path, backup)
	return backup, nil
}

// CheckAll validates every live artifact without modifying anything. A missing
// directory artifact is reported as an issue.
func (g *Guardian) CheckAll(ctx context.Context) Report {
	report := Report{Issues: []Issue{}}
	paths, err := g.disk.List()
	if err != nil {
		report.Issues = append(report.Issues, Issue{Path: g.disk.Root(), Problem: err.Error()})
		return report
	}
	sawDirectory := false
	for _, p := range paths {
		if ctx.Err() != nil {
			report.Issues = append(report.Issues, Issue{Path: g.disk.Root(), Problem: ctx.Err().Error()})
			break
		}
		report.Checked++
		kind, _ := g.disk.KindForPath(p)
		if kind == market.KindSymbolDirectory {
			sawDirectory = true
		}
		if err := g.Inspect(p); err != nil {
			report.Issues = append(report.Issues, Issue{Path: p, Kind: kind, Problem: problem(err)})
		}
	}
	if !sawDirectory {
		report.Issues = append(report.Issues, Issue{
			Path:    g.disk.PathFor(market.DirectoryRequest().Fingerprint()),
			Kind:    market.KindSymbolDirectory,
			Problem: "missing",
		})
	}
	report.Valid = len(report.Issues) == 0
	return report
}

// ResetAll copies every artifact into backup_<timestamp>/ and then clears the disk tier
// and the memory tier. It returns the backup directory.
func (g *Guardian) ResetAll(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	unlock := g.store.lockWrites()
	defer unlock()

	paths, err := g.disk.List()
	if err != nil {
		return "", err
	}
	backupDir := uniquePath(filepath.Join(g.disk.Root(), backupPrefix+g.now().Format(timestampLayout)))
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("cache guardian: create %s: %w", backupDir, err)
	}
	for _, p := range paths {
		rel, err := filepath.Rel(g.disk.Root(), p)
		if err != nil {
			return backupDir, err
		}
		if err := copyFile(p, filepath.Join(backupDir, rel)); err != nil {
			return backupDir, fmt.Errorf("cache guardian: backup %s: %w", p, err)
		}
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return backupDir, fmt.Errorf("cache guardian: remove %s: %w", p, err)
		}
	}
	g.store.ResetMemory()
	shared, err := g.store.clearShared(ctx)
	if err != nil {
		return backupDir, fmt.Errorf("cache guardian: clear shared tier: %w", err)
	}
	logx.WithContext(ctx).Infof("cache guardian: reset %d artifacts and %d shared entries, backup=%s",
		len(paths), shared, backupDir)
	return backupDir, nil
}

// Repair validates every artifact of kind, quarantines the invalid ones and re-fetches
// them through refetch. A directory that cannot be re-fetched is replaced by the
// synthetic directory.
func (g *Guardian) Repair(ctx context.Context, kind market.Kind, refetch RefetchFunc) (RepairResult, error) {
	result := RepairResult{Kind: kind}
	if !kind.Valid() {
		return result, fmt.Errorf("cache guardian: unknown kind %q", kind)
	}
	paths, err := g.disk.ListKind(kind)
	if err != nil {
		return result, err
	}

	var targets []string
	validDirectory := false
	for _, p := range paths {
		result.Checked++
		verr := g.Inspect(p)
		if verr == nil {
			validDirectory = validDirectory || kind == market.KindSymbolDirectory
			continue
		}
		if errors.Is(verr, ErrNotFound) {
			continue
		}
		fp, ok := g.disk.FingerprintForPath(p)
		if entry, rerr := g.disk.ReadPath(p); rerr == nil {
			fp, ok = entry.Fingerprint, true
		}
		backup, qerr := g.Quarantine(p)
		if qerr != nil {
			return result, qerr
		}
		result.Quarantined = append(result.Quarantined, backup)
		if ok {
			g.store.forget(fp)
			if err := g.store.dropShared(ctx, fp); err != nil {
				logx.WithContext(ctx).Errorf("cache guardian: drop shared %s err=%v", fp, err)
			}
			targets = append(targets, fp)
		}
	}
	if kind == market.KindSymbolDirectory && !validDirectory {
		targets = []string{market.DirectoryRequest().Fingerprint()}
	}

	for _, fp := range targets {
		if refetch == nil {
			result.Failed = append(result.Failed, fp)
			continue
		}
		if err := refetch(ctx, fp); err != nil {
			logx.WithContext(ctx).Errorf("cache guardian: refetch %s err=%v", fp, err)
			result.Failed = append(result.Failed, fp)
			continue
		}
		result.Refetched = append(result.Refetched, fp)
	}

	if kind == market.KindSymbolDirectory && len(result.Failed) > 0 {
		fp := market.DirectoryRequest().Fingerprint()
		if _, err := g.store.Put(ctx, fp, SyntheticDirectory(), SyntheticSource, g.syntheticTTL); err != nil {
			return result, fmt.Errorf("cache guardian: write synthetic directory: %w", err)
		}
		result.Synthetic = true
		logx.WithContext(ctx).Infof("cache guardian: wrote synthetic directory")
	}
	return result, nil
}

type codeRange struct{ from, to int }

var syntheticRanges = []codeRange{
	{600000, 603999}, // Shanghai main board
	{688000, 689999}, // STAR market
	{1, 1999},        // Shenzhen main board
	{300000, 301999}, // ChiNext
}

// SyntheticDirectory builds a placeholder directory covering the main A-share code
// ranges. Names are placeholders and must not be mistaken for real listings.
func SyntheticDirectory() *market.Payload {
	table := &market.Table{Columns: []string{market.FieldCode, market.FieldName}}
	for _, r := range syntheticRanges {
		for c := r.from; c <= r.to; c++ {
			code := fmt.Sprintf("%06d", c)
			rec := market.NewRecord()
			rec.Text[market.FieldCode] = code
			rec.Text[market.FieldName] = "Unknown " + code
			table.Rows = append(table.Rows, rec)
		}
	}
	return &market.Payload{Kind: market.KindSymbolDirectory, Table: table}
}

func asCorruption(path string, err error) error {
	var c *CorruptionError
	if errors.As(err, &c) {
		return c
	}
	return &CorruptionError{Path: path, Err: err}
}

func problem(err error) string {
	var c *CorruptionError
	if errors.As(err, &c) {
		return c.Err.Error()
	}
	return err.Error()
}

func uniquePath(path string) string {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s.%d", path, i)
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
