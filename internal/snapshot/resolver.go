// Package snapshot walks a collection root and finds the device metadata of
// the capture runs under it, keeping only the latest run where the
// collector leaves several.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/davidzhou73/convnetlog/internal/device"
	"github.com/davidzhou73/convnetlog/internal/event"
	"github.com/davidzhou73/convnetlog/internal/xmldoc"
)

// ErrInvalidRoot is returned when the collection root can't be walked at all
var ErrInvalidRoot = errors.New("invalid collection root")

// FilesystemError is reported for a path that couldn't be read during the walk
type FilesystemError struct {
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("cannot read %s: %v", e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// Resolver finds device records under a collection root.
type Resolver struct {
	// Policies maps a directory name to the policy choosing its subdirectories
	Policies map[string]Policy
	// MetadataPattern matches metadata file names
	MetadataPattern *regexp.Regexp
	// Exclude holds doublestar globs matched against root-relative paths
	Exclude []string
	// Report receives informational events; may be nil
	Report event.Handler
}

// New returns a resolver with the BrainCollect latest-snapshot policy
func New() *Resolver {
	return &Resolver{
		Policies:        map[string]Policy{DefaultSnapshotDir: NewLatestSnapshot()},
		MetadataPattern: regexp.MustCompile(device.DefaultMetadataPattern),
	}
}

type walker struct {
	*Resolver
	root    string
	visited map[string]bool
	records []device.Record
}

// Resolve walks root and returns every device record found, in discovery
// order. Duplicates are not removed here. Problems below the root are
// reported and skipped; only an unusable root fails the call.
func (r *Resolver) Resolve(root string) ([]device.Record, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRoot, root, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, abs)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}

	w := &walker{Resolver: r, root: abs, visited: make(map[string]bool)}
	w.markVisited(abs)
	w.walkEntries(abs, entries)
	return w.records, nil
}

func (w *walker) markVisited(dir string) bool {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		resolved = dir
	}
	if w.visited[resolved] {
		return false
	}
	w.visited[resolved] = true
	return true
}

func (w *walker) walk(dir string) {
	if !w.markVisited(dir) {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.fsError(dir, err)
		// ReadDir returns what it managed to read before failing
		if len(entries) == 0 {
			return
		}
	}
	w.walkEntries(dir, entries)
}

func (w *walker) walkEntries(dir string, entries []os.DirEntry) {
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if w.excluded(path) {
			continue
		}

		if isDir(dir, e) {
			if policy, ok := w.Policies[e.Name()]; ok {
				w.walkSelected(path, policy)
				continue
			}
			w.walk(path)
			continue
		}

		if w.MetadataPattern.MatchString(e.Name()) {
			w.readMetadata(path)
		}
	}
}

// walkSelected lets policy pick which children of dir are walked. dir
// itself is never walked as a whole.
func (w *walker) walkSelected(dir string, policy Policy) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.fsError(dir, err)
		return
	}

	selected, errs := policy.Select(dir, entries)
	for _, err := range errs {
		w.Report.Emit(event.Warn(event.KindTimestampError, dir, err, "skipping snapshot directory"))
	}

	if len(selected) == 0 {
		w.Report.Emit(event.Info(event.KindSnapshot, dir, "no valid snapshot found in %s", dir))
		return
	}

	for _, name := range selected {
		path := filepath.Join(dir, name)
		w.Report.Emit(event.Info(event.KindSnapshot, path, "using snapshot %s", name))
		w.walk(path)
	}
}

func (w *walker) readMetadata(path string) {
	records, skipped, err := device.ReadDevices(path)
	if err != nil {
		var pe *xmldoc.ParseError
		if errors.As(err, &pe) {
			w.Report.Emit(event.Warn(event.KindParseError, path, err, "failed to parse %s", path))
		} else {
			w.fsError(path, err)
		}
		return
	}

	for _, s := range skipped {
		w.Report.Emit(event.Event{
			Level:   event.LevelInfo,
			Kind:    event.KindMissingField,
			Path:    path,
			Message: s.Error(),
			Err:     s,
		})
	}

	w.records = append(w.records, records...)
}

func (w *walker) excluded(path string) bool {
	if len(w.Exclude) == 0 {
		return false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (w *walker) fsError(path string, err error) {
	fe := &FilesystemError{Path: path, Err: err}
	w.Report.Emit(event.Warn(event.KindFilesystemError, path, fe, "skipping unreadable path"))
}
