package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidzhou73/convnetlog/internal/config"
	"github.com/davidzhou73/convnetlog/internal/convert"
	"github.com/davidzhou73/convnetlog/internal/device"
	"github.com/davidzhou73/convnetlog/internal/event"
	"github.com/davidzhou73/convnetlog/internal/logger"
	"github.com/davidzhou73/convnetlog/internal/snapshot"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// collection builds a root with one snapshot holding sw1 and sw2, plus a
// second site that repeats sw1. It returns the root and the snapshot dir.
func collection(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	snap := filepath.Join(root, "site-a", "BrainCollect", "result_202403051530450001")

	write(t, filepath.Join(snap, "cmd_info_20240305153045.xml"), `<devices>
<device><name>sw1</name><ip>10.0.0.1</ip><sn>SN1</sn><state>成功</state></device>
<device><name>sw2</name><ip>10.0.0.2</ip><sn>SN2</sn><state>timeout</state></device>
<device><name>broken</name><ip>10.0.0.9</ip><state>success</state></device>
</devices>`)
	write(t, filepath.Join(root, "site-b", "BrainCollect", "result_202401011200000001", "cmd_info_20240101120000.xml"), `<devices>
<device><name>sw1</name><ip>10.0.0.1</ip><sn>SN1</sn><state>success</state></device>
</devices>`)

	network := filepath.Join(snap, "cmdsResult", "network")
	write(t, filepath.Join(network, "ssh_10.0.0.1_sw1.xml"), `<capture>
<item><command>display version</command><echo>&lt;sw1&gt;display version
Version 7.1
&lt;sw1&gt;</echo></item>
<item><command>display clock</command></item>
<item><command>display version</command><echo>&lt;sw1&gt;display version
Version 7.2
&lt;sw1&gt;</echo></item>
</capture>`)
	write(t, filepath.Join(network, "ssh_10.0.0.1_sw1-b.xml"), `<capture>
<item><command>display fan</command><echo>&lt;sw1&gt;display fan
Fan 1: Normal
&lt;sw1&gt;</echo></item>
<item><command>display clock</command><echo>&lt;sw1&gt;display clock
12:00:00
&lt;sw1&gt;</echo></item>
</capture>`)
	write(t, filepath.Join(network, "ssh_10.0.0.1_sw1-c.xml"), `<capture><item><command>`)
	write(t, filepath.Join(network, "notes.txt"), "not a capture")

	return root, snap
}

func newSession(t *testing.T) *Session {
	t.Helper()
	return New(config.Default(), logger.NewTestLogger())
}

func discover(t *testing.T, s *Session, root string) []device.Record {
	t.Helper()
	records, _, err := s.Discover(root)
	require.NoError(t, err)
	return records
}

func byName(t *testing.T, records []device.Record, name string) device.Record {
	t.Helper()
	for _, r := range records {
		if r.Name == name {
			return r
		}
	}
	require.Failf(t, "device not discovered", "%s", name)
	return device.Record{}
}

func TestDiscover(t *testing.T) {
	root, _ := collection(t)
	s := newSession(t)

	records, events, err := s.Discover(root)
	require.NoError(t, err)

	var names []string
	for _, r := range records {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"sw1", "sw2"}, names)
	assert.Contains(t, records[0].SourcePath, "site-a")

	kinds := map[event.Kind]int{}
	for _, e := range events {
		kinds[e.Kind]++
	}
	assert.Equal(t, 2, kinds[event.KindDeviceFound])
	assert.Equal(t, 1, kinds[event.KindDuplicate])
	assert.Equal(t, 1, kinds[event.KindMissingField])
	assert.Equal(t, 2, kinds[event.KindSnapshot])

	assert.Len(t, s.Devices(), 2)
}

func TestDiscoverKeepLatest(t *testing.T) {
	root, _ := collection(t)
	cfg := config.Default()
	cfg.Duplicates = string(device.KeepLatest)
	s := New(cfg, logger.NewTestLogger())

	records, events, err := s.Discover(root)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "success", records[0].State)
	assert.Contains(t, records[0].SourcePath, "site-b")

	var dup []string
	for _, e := range events {
		if e.Kind == event.KindDuplicate {
			dup = append(dup, e.Message)
		}
	}
	require.Len(t, dup, 1)
	assert.True(t, strings.HasPrefix(dup[0], "duplicate device replaced earlier record: sw1"), dup[0])
}

func TestDiscoverKeepFirstReportsSkipped(t *testing.T) {
	root, _ := collection(t)
	s := newSession(t)

	_, events, err := s.Discover(root)
	require.NoError(t, err)

	var dup []string
	for _, e := range events {
		if e.Kind == event.KindDuplicate {
			dup = append(dup, e.Message)
		}
	}
	require.Len(t, dup, 1)
	assert.True(t, strings.HasPrefix(dup[0], "duplicate device skipped: sw1"), dup[0])
}

func TestDiscoverClearsPreviousResults(t *testing.T) {
	root, _ := collection(t)
	s := newSession(t)
	discover(t, s, root)

	empty := t.TempDir()
	records := discover(t, s, empty)
	assert.Empty(t, records)
	assert.Empty(t, s.Devices())
}

func TestDiscoverInvalidRoot(t *testing.T) {
	s := newSession(t)

	_, _, err := s.Discover(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, snapshot.ErrInvalidRoot)
}

func TestLookup(t *testing.T) {
	root, _ := collection(t)
	s := newSession(t)
	discover(t, s, root)

	r, err := s.Lookup("10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, "sw2", r.Name)

	_, err = s.Lookup("nope")
	assert.ErrorIs(t, err, device.ErrNotFound)
}

func TestListCommands(t *testing.T) {
	root, _ := collection(t)
	s := newSession(t)
	sw1 := byName(t, discover(t, s, root), "sw1")

	cmds, err := s.ListCommands(sw1)
	require.NoError(t, err)
	// Files are read in name order: sw1-b, sw1-c (malformed), sw1
	assert.Equal(t, []string{"display fan", "display clock", "display version"}, cmds)
}

func TestListCommandsWithoutCaptures(t *testing.T) {
	root, _ := collection(t)
	s := newSession(t)
	sw2 := byName(t, discover(t, s, root), "sw2")

	cmds, err := s.ListCommands(sw2)
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestGetResult(t *testing.T) {
	root, _ := collection(t)
	s := newSession(t)
	sw1 := byName(t, discover(t, s, root), "sw1")

	out, ok := s.GetResult(sw1, "display version")
	require.True(t, ok)

	sep := strings.Repeat("-", 50)
	want := "Command: display version\nResult:\n<sw1>display version\nVersion 7.1\n<sw1>\n" + sep + "\n" +
		"Command: display version\nResult:\n<sw1>display version\nVersion 7.2\n<sw1>\n" + sep + "\n"
	assert.Equal(t, want, out)
}

func TestGetResultUnechoedCommand(t *testing.T) {
	root, _ := collection(t)
	s := newSession(t)
	sw1 := byName(t, discover(t, s, root), "sw1")

	out, ok := s.GetResult(sw1, "display clock")
	require.True(t, ok)
	sep := strings.Repeat("-", 50)
	assert.Equal(t, "Command: display clock\nResult:\n<sw1>display clock\n12:00:00\n<sw1>\n"+sep+"\n"+
		"Command: display clock\nResult:\n\n"+sep+"\n", out)
}

func TestGetResultNotFound(t *testing.T) {
	root, _ := collection(t)
	s := newSession(t)
	sw1 := byName(t, discover(t, s, root), "sw1")

	out, ok := s.GetResult(sw1, "display interface")
	assert.False(t, ok)
	assert.Equal(t, NotFound, out)
}

func TestCaptureCacheNoticesChanges(t *testing.T) {
	root, snap := collection(t)
	s := newSession(t)
	sw1 := byName(t, discover(t, s, root), "sw1")

	_, err := s.ListCommands(sw1)
	require.NoError(t, err)

	path := filepath.Join(snap, "cmdsResult", "network", "ssh_10.0.0.1_sw1-b.xml")
	write(t, path, `<capture><item><command>display power</command><echo>x
PSU ok
x</echo></item></capture>`)
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	cmds, err := s.ListCommands(sw1)
	require.NoError(t, err)
	assert.Equal(t, "display power", cmds[0])
	assert.NotContains(t, cmds, "display fan")
}

func TestConvertAll(t *testing.T) {
	root, _ := collection(t)
	s := newSession(t)
	records := discover(t, s, root)
	out := t.TempDir()

	var progress event.Collector
	sum, err := s.ConvertAll(context.Background(), records, out, progress.Handle)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Converted)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 2, sum.Files)
	assert.Equal(t, 1, progress.Count(event.KindRunDone))
	assert.Equal(t, 1, progress.Count(event.KindParseError))

	data, err := os.ReadFile(filepath.Join(out, "sw1.log"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "#\n<sw1>display fan\nFan 1: Normal\n"))
	assert.NoFileExists(t, filepath.Join(out, "sw2.log"))
}

func TestConvertAllCancelled(t *testing.T) {
	root, _ := collection(t)
	s := newSession(t)
	records := discover(t, s, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := s.ConvertAll(ctx, records, t.TempDir(), nil)
	require.NoError(t, err)
	assert.True(t, sum.Cancelled)
	assert.Zero(t, sum.Converted)
	for _, r := range sum.Results {
		assert.Equal(t, convert.StatusCancelled, r.Status)
	}
}

func TestStartConversion(t *testing.T) {
	root, _ := collection(t)
	s := newSession(t)
	records := discover(t, s, root)

	job := s.StartConversion(context.Background(), records, t.TempDir())
	var seen int
	for range job.Events() {
		seen++
	}
	sum, err := job.Wait()
	require.NoError(t, err)
	assert.Positive(t, seen)
	assert.Equal(t, 1, sum.Converted)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, len(records), sum.Devices)
}

func TestCaptureCacheSurvivesRediscovery(t *testing.T) {
	root, _ := collection(t)
	s := newSession(t)
	sw1 := byName(t, discover(t, s, root), "sw1")

	_, err := s.ListCommands(sw1)
	require.NoError(t, err)
	// The malformed capture is not cached
	assert.Equal(t, 2, s.captures.Len())

	discover(t, s, root)
	assert.Equal(t, 2, s.captures.Len())

	cmds, err := s.ListCommands(sw1)
	require.NoError(t, err)
	assert.Equal(t, []string{"display fan", "display clock", "display version"}, cmds)
}
