package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// DefaultCapturePattern matches per-device capture files such as
// ssh_10.1.1.1_core-sw.xml
const DefaultCapturePattern = `^ssh_\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}_[-0-9a-zA-Z_]*\.xml$`

var defaultCaptureRe = regexp.MustCompile(DefaultCapturePattern)

// CaptureDir returns the directory holding the capture files that belong to
// the metadata file at metadataPath.
func CaptureDir(metadataPath string) string {
	return filepath.Join(filepath.Dir(metadataPath), "cmdsResult", "network")
}

// CaptureFiles lists the capture files in dir, in listing order. A nil
// pattern uses DefaultCapturePattern. A missing directory is not an error.
func CaptureFiles(dir string, pattern *regexp.Regexp) ([]string, error) {
	if pattern == nil {
		pattern = defaultCaptureRe
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list capture directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !pattern.MatchString(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}
