package transcript

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Writer streams command entries into one device transcript.
type Writer struct {
	path    string
	device  string
	f       *os.File
	bw      *bufio.Writer
	bytes   int64
	entries int
}

// FileName returns the transcript file name for a device. Path separators
// in the name are replaced so the file always lands in the output directory.
func FileName(deviceName string) string {
	name := strings.NewReplacer("/", "_", `\`, "_").Replace(deviceName)
	return name + ".log"
}

// Create truncates or creates the transcript for deviceName in outputDir.
func Create(outputDir, deviceName string) (*Writer, error) {
	path := filepath.Join(outputDir, FileName(deviceName))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript: %w", err)
	}
	return &Writer{
		path:   path,
		device: deviceName,
		f:      f,
		bw:     bufio.NewWriter(f),
	}, nil
}

// WriteEntries appends entries in order. Each entry is a "#" separator, the
// command behind the device prompt, then the response lines.
func (w *Writer) WriteEntries(entries []CommandEntry) error {
	for _, e := range entries {
		n, err := fmt.Fprintf(w.bw, "#\n<%s>%s\n", w.device, e.Command)
		w.bytes += int64(n)
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", w.path, err)
		}
		for _, line := range e.Response {
			n, err := w.bw.WriteString(line + "\n")
			w.bytes += int64(n)
			if err != nil {
				return fmt.Errorf("failed to write %s: %w", w.path, err)
			}
		}
		w.entries++
	}
	return nil
}

// Close flushes and closes the file. It is safe to call more than once.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	ferr := w.bw.Flush()
	cerr := w.f.Close()
	w.f = nil
	if ferr != nil {
		return fmt.Errorf("failed to flush %s: %w", w.path, ferr)
	}
	return cerr
}

// Path returns the transcript file path
func (w *Writer) Path() string { return w.path }

// Bytes returns how many bytes have been written so far
func (w *Writer) Bytes() int64 { return w.bytes }

// Entries returns how many entries have been written so far
func (w *Writer) Entries() int { return w.entries }

// WriteFile writes a complete transcript in one call and returns its path.
func WriteFile(outputDir, deviceName string, entries []CommandEntry) (string, error) {
	w, err := Create(outputDir, deviceName)
	if err != nil {
		return "", err
	}
	defer w.Close()

	if err := w.WriteEntries(entries); err != nil {
		return w.Path(), err
	}
	return w.Path(), w.Close()
}
