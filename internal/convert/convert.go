// Package convert runs the bulk transcript conversion across many devices.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/davidzhou73/convnetlog/internal/device"
	"github.com/davidzhou73/convnetlog/internal/event"
	"github.com/davidzhou73/convnetlog/internal/transcript"
	"github.com/davidzhou73/convnetlog/internal/xmldoc"
)

// ErrOutputLocked is returned when another run holds the output directory
var ErrOutputLocked = errors.New("output directory is locked by another conversion")

// LockFile is created in the output directory for the duration of a run
const LockFile = ".convnetlog.lock"

// Device result statuses
const (
	StatusConverted = "converted"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Result describes the conversion of one device
type Result struct {
	Device   device.Record `json:"device"`
	Status   string        `json:"status"`
	Path     string        `json:"path,omitempty"`
	Files    int           `json:"files"`
	Entries  int           `json:"entries"`
	Bytes    int64         `json:"bytes"`
	Err      error         `json:"-"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
}

// Summary aggregates a run
type Summary struct {
	RunID     string    `json:"run_id"`
	Devices   int       `json:"devices"`
	Converted int       `json:"converted"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Files     int       `json:"files"`
	Entries   int       `json:"entries"`
	Bytes     int64     `json:"bytes"`
	Cancelled bool      `json:"cancelled"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Results   []Result  `json:"results"`
}

// Converter writes one transcript per device
type Converter struct {
	// CapturePattern matches capture file names; nil uses the default
	CapturePattern *regexp.Regexp
	// Workers is the number of devices converted at once; below 2 means
	// strictly sequential
	Workers int
	// Report receives progress events. It must be safe for concurrent use
	// when Workers > 1.
	Report event.Handler
}

// Run converts devices into outputDir. Cancellation of ctx is checked
// before each device starts; a device that has started is finished. Only
// setup problems are returned as errors, per-device problems are reported
// and recorded in the summary.
func (c *Converter) Run(ctx context.Context, devices []device.Record, outputDir string) (Summary, error) {
	sum := Summary{
		RunID:   uuid.New().String(),
		Devices: len(devices),
		Started: time.Now(),
		Results: make([]Result, len(devices)),
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return sum, fmt.Errorf("failed to create output directory: %w", err)
	}

	lock := flock.New(filepath.Join(outputDir, LockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return sum, fmt.Errorf("failed to lock output directory: %w", err)
	}
	if !ok {
		return sum, fmt.Errorf("%w: %s", ErrOutputLocked, outputDir)
	}
	defer lock.Unlock()

	// Devices sharing a transcript file name run as one task, in input
	// order, so the last of them owns the file whatever the worker count
	var groups [][]int
	groupOf := make(map[string]int)
	for i, d := range devices {
		sum.Results[i] = Result{Device: d, Status: StatusCancelled}
		name := transcript.FileName(d.Name)
		g, ok := groupOf[name]
		if !ok {
			g = len(groups)
			groupOf[name] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}

	workers := max(c.Workers, 1)
	p := pool.New().WithMaxGoroutines(workers)

	for _, group := range groups {
		if ctx.Err() != nil {
			break
		}
		p.Go(func() {
			for _, i := range group {
				// Go may have blocked waiting for a free worker
				if ctx.Err() != nil {
					return
				}
				sum.Results[i] = c.convertDevice(devices[i], outputDir)
			}
		})
	}
	p.Wait()

	for _, r := range sum.Results {
		switch r.Status {
		case StatusConverted:
			sum.Converted++
		case StatusSkipped:
			sum.Skipped++
		case StatusFailed:
			sum.Failed++
		case StatusCancelled:
			sum.Cancelled = true
		}
		sum.Files += r.Files
		sum.Entries += r.Entries
		sum.Bytes += r.Bytes
	}
	sum.Finished = time.Now()

	if sum.Cancelled {
		notStarted := sum.Devices - sum.Converted - sum.Skipped - sum.Failed
		c.Report.Emit(event.Info(event.KindCancelled, outputDir, "conversion cancelled, %d device(s) not converted", notStarted))
	}
	c.Report.Emit(event.Info(event.KindRunDone, outputDir, "all transcript conversions finished"))

	return sum, nil
}

func (c *Converter) convertDevice(d device.Record, outputDir string) (res Result) {
	res = Result{Device: d, Started: time.Now()}
	defer func() { res.Finished = time.Now() }()

	dir := transcript.CaptureDir(d.SourcePath)
	files, err := transcript.CaptureFiles(dir, c.CapturePattern)
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		c.emit(d, event.Error(event.KindDeviceFailed, dir, err, "cannot list captures for %s", d.Name))
		return res
	}
	if len(files) == 0 {
		res.Status = StatusSkipped
		c.emit(d, event.Info(event.KindDeviceSkipped, dir, "no capture files for %s", d.Name))
		return res
	}

	w, err := transcript.Create(outputDir, d.Name)
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		c.emit(d, event.Error(event.KindDeviceFailed, outputDir, err, "cannot write transcript for %s", d.Name))
		return res
	}
	defer w.Close()
	res.Path = w.Path()

	for _, f := range files {
		c.emit(d, event.Info(event.KindConvertingFile, f, "converting file: %s", filepath.Base(f)))

		entries, err := transcript.ExtractFile(f)
		if err != nil {
			kind := event.KindFilesystemError
			var pe *xmldoc.ParseError
			if errors.As(err, &pe) {
				kind = event.KindParseError
			}
			c.emit(d, event.Warn(kind, f, err, "skipping capture file %s", filepath.Base(f)))
			continue
		}

		if err := w.WriteEntries(entries); err != nil {
			res.Status, res.Err = StatusFailed, err
			c.emit(d, event.Error(event.KindDeviceFailed, res.Path, err, "failed writing transcript for %s", d.Name))
			return res
		}
		res.Files++
	}

	if err := w.Close(); err != nil {
		res.Status, res.Err = StatusFailed, err
		c.emit(d, event.Error(event.KindDeviceFailed, res.Path, err, "failed closing transcript for %s", d.Name))
		return res
	}

	res.Status = StatusConverted
	res.Entries = w.Entries()
	res.Bytes = w.Bytes()
	c.emit(d, event.Info(event.KindDeviceDone, res.Path, "wrote %s (%d commands)", filepath.Base(res.Path), res.Entries))
	return res
}

func (c *Converter) emit(d device.Record, e event.Event) {
	e.Device = d.Name
	c.Report.Emit(e)
}
