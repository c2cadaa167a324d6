// Package session is the entry point used by the CLI. It owns the device
// registry of the last discovery and answers per-device queries from the
// capture files.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidzhou73/convnetlog/internal/cache"
	"github.com/davidzhou73/convnetlog/internal/config"
	"github.com/davidzhou73/convnetlog/internal/convert"
	"github.com/davidzhou73/convnetlog/internal/device"
	"github.com/davidzhou73/convnetlog/internal/event"
	"github.com/davidzhou73/convnetlog/internal/logger"
	"github.com/davidzhou73/convnetlog/internal/snapshot"
	"github.com/davidzhou73/convnetlog/internal/transcript"
	"github.com/davidzhou73/convnetlog/internal/xmldoc"
)

// NotFound is the text GetResult returns when no command matches
const NotFound = "result not found"

const separator = "--------------------------------------------------"

// capture is a parsed capture file, valid while the file is unchanged
type capture struct {
	modTime time.Time
	size    int64
	pairs   []transcript.Pair
}

// Session holds the state of one interactive use of the tool
type Session struct {
	cfg      *config.Config
	log      zerolog.Logger
	resolver *snapshot.Resolver
	registry *device.Registry
	policy   device.DuplicatePolicy
	captures *cache.Cache[string, *capture]
	pattern  *regexp.Regexp
}

// New returns a session using cfg; a nil cfg uses the defaults
func New(cfg *config.Config, log zerolog.Logger) *Session {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Session{
		cfg:      cfg,
		log:      log,
		resolver: cfg.Resolver(),
		registry: device.NewRegistry(cfg.DuplicatePolicy()),
		policy:   cfg.DuplicatePolicy(),
		captures: cache.New[string, *capture](cfg.CacheTTL),
		pattern:  cfg.CaptureRegexp(),
	}
}

// Discover replaces the registry with the devices found under root and
// returns them with every informational event raised on the way. Only an
// unusable root is an error.
func (s *Session) Discover(root string) ([]device.Record, []event.Event, error) {
	var events event.Collector
	report := event.Tee(events.Handle, logger.Handler(s.log))

	s.registry.Clear()
	// Entries still valid are checked against the file on use
	s.captures.Cleanup()

	r := *s.resolver
	r.Report = report
	records, err := r.Resolve(root)
	if err != nil {
		return nil, events.Events(), err
	}

	for _, rec := range records {
		e := event.Info(event.KindDeviceFound, rec.SourcePath, "found device: %s", rec)
		if !s.registry.Add(rec) {
			if s.policy == device.KeepLatest {
				e = event.Info(event.KindDuplicate, rec.SourcePath, "duplicate device replaced earlier record: %s", rec)
			} else {
				e = event.Info(event.KindDuplicate, rec.SourcePath, "duplicate device skipped: %s", rec)
			}
		}
		e.Device = rec.Name
		report.Emit(e)
	}

	s.log.Debug().
		Str("root", root).
		Int("devices", s.registry.Len()).
		Int("cached_captures", s.captures.Len()).
		Msg("Discovery finished")
	return s.registry.All(), events.Events(), nil
}

// Devices returns the registry contents in discovery order
func (s *Session) Devices() []device.Record {
	return s.registry.All()
}

// Lookup finds a discovered device by name, IP or serial
func (s *Session) Lookup(query string) (device.Record, error) {
	return s.registry.Lookup(query)
}

// ListCommands returns the distinct commands found across the device's
// capture files, in order of first appearance. Unreadable capture files
// are reported and skipped.
func (s *Session) ListCommands(rec device.Record) ([]string, error) {
	files, err := s.captureFiles(rec)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	commands := []string{}
	for _, f := range files {
		c, err := s.load(f)
		if err != nil {
			s.warn(rec, f, err)
			continue
		}
		for _, p := range c.pairs {
			if !seen[p.Command] {
				seen[p.Command] = true
				commands = append(commands, p.Command)
			}
		}
	}
	return commands, nil
}

// GetResult renders every occurrence of command across the device's
// capture files. A command captured without an echo renders with an
// empty result. When nothing matches it returns NotFound and false.
func (s *Session) GetResult(rec device.Record, command string) (string, bool) {
	files, err := s.captureFiles(rec)
	if err != nil {
		s.warn(rec, transcript.CaptureDir(rec.SourcePath), err)
		return NotFound, false
	}

	command = strings.TrimSpace(command)
	var b strings.Builder
	for _, f := range files {
		c, err := s.load(f)
		if err != nil {
			s.warn(rec, f, err)
			continue
		}
		for _, p := range c.pairs {
			if p.Command != command {
				continue
			}
			fmt.Fprintf(&b, "Command: %s\nResult:\n%s\n%s\n", p.Command, p.Echo, separator)
		}
	}

	if b.Len() == 0 {
		return NotFound, false
	}
	return b.String(), true
}

// ConvertAll converts devices into outputDir, blocking until the run ends.
// onProgress may be nil. Cancelling ctx stops the run before the next
// device.
func (s *Session) ConvertAll(ctx context.Context, devices []device.Record, outputDir string, onProgress func(event.Event)) (convert.Summary, error) {
	return s.converter(onProgress).Run(ctx, devices, outputDir)
}

// StartConversion is the background form of ConvertAll
func (s *Session) StartConversion(ctx context.Context, devices []device.Record, outputDir string) *convert.Job {
	return s.converter(nil).Start(ctx, devices, outputDir)
}

func (s *Session) converter(onProgress func(event.Event)) *convert.Converter {
	return &convert.Converter{
		CapturePattern: s.pattern,
		Workers:        s.cfg.Workers,
		Report:         event.Tee(onProgress, logger.Handler(s.log)),
	}
}

func (s *Session) captureFiles(rec device.Record) ([]string, error) {
	return transcript.CaptureFiles(transcript.CaptureDir(rec.SourcePath), s.pattern)
}

// load returns the parsed capture at path, reparsing when the file changed
// since it was cached
func (s *Session) load(path string) (*capture, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if c, ok := s.captures.Get(path); ok && (!c.modTime.Equal(fi.ModTime()) || c.size != fi.Size()) {
		s.captures.Delete(path)
	}

	return s.captures.GetOrLoad(path, func() (*capture, error) {
		doc, err := xmldoc.Open(path)
		if err != nil {
			return nil, err
		}
		return &capture{modTime: fi.ModTime(), size: fi.Size(), pairs: transcript.Pairs(doc)}, nil
	})
}

func (s *Session) warn(rec device.Record, path string, err error) {
	kind := event.KindFilesystemError
	var pe *xmldoc.ParseError
	if errors.As(err, &pe) {
		kind = event.KindParseError
	}
	e := event.Warn(kind, path, err, "skipping capture file for %s", rec.Name)
	e.Device = rec.Name
	logger.Emit(s.log, e)
}
