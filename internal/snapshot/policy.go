package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// Defaults for the collector's snapshot directories, e.g.
// BrainCollect/result_202401011200001234
const (
	DefaultSnapshotDir     = "BrainCollect"
	DefaultSnapshotPattern = `^result_\d{18}$`
	DefaultOffset          = 7
	DefaultWidth           = 14
	DefaultLayout          = "20060102150405"
)

// Policy decides which subdirectories of a special directory are walked.
type Policy interface {
	// Select returns the names of the entries under dir to descend into,
	// plus any recoverable problems found while choosing.
	Select(dir string, entries []os.DirEntry) ([]string, []error)
}

// TimestampParseError is reported for a snapshot directory whose name
// doesn't hold a valid timestamp
type TimestampParseError struct {
	Path  string
	Value string
	Err   error
}

func (e *TimestampParseError) Error() string {
	return fmt.Sprintf("snapshot %s: invalid timestamp %q: %v", e.Path, e.Value, e.Err)
}

func (e *TimestampParseError) Unwrap() error {
	return e.Err
}

// LatestSnapshot selects the single most recent snapshot directory. The
// timestamp is read from Name[Offset:Offset+Width] and parsed with Layout.
type LatestSnapshot struct {
	Pattern *regexp.Regexp
	Offset  int
	Width   int
	Layout  string
}

// NewLatestSnapshot returns the policy used for BrainCollect directories
func NewLatestSnapshot() *LatestSnapshot {
	return &LatestSnapshot{
		Pattern: regexp.MustCompile(DefaultSnapshotPattern),
		Offset:  DefaultOffset,
		Width:   DefaultWidth,
		Layout:  DefaultLayout,
	}
}

// Timestamp extracts the snapshot time from a directory name
func (p *LatestSnapshot) Timestamp(name string) (time.Time, error) {
	end := p.Offset + p.Width
	if p.Offset < 0 || end > len(name) {
		return time.Time{}, fmt.Errorf("name too short for offset %d width %d", p.Offset, p.Width)
	}
	return time.ParseInLocation(p.Layout, name[p.Offset:end], time.Local)
}

func (p *LatestSnapshot) Select(dir string, entries []os.DirEntry) ([]string, []error) {
	var (
		best     string
		bestTime time.Time
		errs     []error
	)

	for _, e := range entries {
		if !p.Pattern.MatchString(e.Name()) || !isDir(dir, e) {
			continue
		}

		ts, err := p.Timestamp(e.Name())
		if err != nil {
			errs = append(errs, &TimestampParseError{
				Path:  filepath.Join(dir, e.Name()),
				Value: e.Name(),
				Err:   err,
			})
			continue
		}

		// Equal timestamps fall back to the name so the choice is stable
		if best == "" || ts.After(bestTime) || (ts.Equal(bestTime) && e.Name() > best) {
			best, bestTime = e.Name(), ts
		}
	}

	if best == "" {
		return nil, errs
	}
	return []string{best}, errs
}

// isDir reports whether the entry is a directory or a symlink that
// resolves to one.
func isDir(parent string, e os.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&os.ModeSymlink == 0 {
		return false
	}
	fi, err := os.Stat(filepath.Join(parent, e.Name()))
	return err == nil && fi.IsDir()
}
