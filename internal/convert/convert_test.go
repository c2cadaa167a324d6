package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidzhou73/convnetlog/internal/device"
	"github.com/davidzhou73/convnetlog/internal/event"
)

// fixture lays out a run directory per device, each with a metadata file
// and one capture file, and returns the matching records.
func fixture(t *testing.T, n int) []device.Record {
	t.Helper()
	run := t.TempDir()

	var devices []device.Record
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("sw%d", i)
		ip := fmt.Sprintf("10.0.0.%d", i)
		devRun := filepath.Join(run, name)
		devMeta := filepath.Join(devRun, "cmd_info_20240101120000.xml")
		devCap := filepath.Join(devRun, "cmdsResult", "network")
		require.NoError(t, os.MkdirAll(devCap, 0o755))
		require.NoError(t, os.WriteFile(devMeta, []byte("<devices/>"), 0o644))

		capture := fmt.Sprintf(`<capture>
  <cmd><command>display version</command><echo>&lt;%[1]s&gt;display version
Version %[2]d
&lt;%[1]s&gt;</echo></cmd>
  <cmd><command>display clock</command><echo>&lt;%[1]s&gt;display clock
12:00:0%[2]d
&lt;%[1]s&gt;</echo></cmd>
</capture>`, name, i)
		require.NoError(t, os.WriteFile(filepath.Join(devCap, fmt.Sprintf("ssh_%s_%s.xml", ip, name)), []byte(capture), 0o644))

		devices = append(devices, device.Record{Name: name, IP: ip, Serial: fmt.Sprintf("SN%d", i), State: "success", SourcePath: devMeta})
	}
	return devices
}

func TestRunWritesTranscripts(t *testing.T) {
	devices := fixture(t, 2)
	out := t.TempDir()

	var c event.Collector
	conv := &Converter{Report: c.Handle}
	sum, err := conv.Run(context.Background(), devices, out)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Converted)
	assert.Equal(t, 2, sum.Files)
	assert.Equal(t, 4, sum.Entries)
	assert.False(t, sum.Cancelled)
	assert.NotEmpty(t, sum.RunID)

	data, err := os.ReadFile(filepath.Join(out, "sw1.log"))
	require.NoError(t, err)
	assert.Equal(t, "#\n<sw1>display version\nVersion 1\n#\n<sw1>display clock\n12:00:01\n", string(data))
	assert.Equal(t, int64(len(data)), sum.Results[0].Bytes)

	assert.Equal(t, 2, c.Count(event.KindConvertingFile))
	assert.Equal(t, 2, c.Count(event.KindDeviceDone))
	assert.Equal(t, 1, c.Count(event.KindRunDone))
}

func TestRunAggregatesCaptureFilesAndSkipsMalformed(t *testing.T) {
	devices := fixture(t, 1)
	capDir := filepath.Join(filepath.Dir(devices[0].SourcePath), "cmdsResult", "network")
	require.NoError(t, os.WriteFile(filepath.Join(capDir, "ssh_10.0.0.1_a-broken.xml"), []byte("<capture><cmd>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(capDir, "ssh_10.0.0.1_z-extra.xml"),
		[]byte("<c><command>display fan</command><echo>p\nFan ok\np</echo></c>"), 0o644))

	out := t.TempDir()
	var c event.Collector
	sum, err := (&Converter{Report: c.Handle}).Run(context.Background(), devices, out)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Converted)
	assert.Equal(t, 2, sum.Files)
	assert.Equal(t, 1, c.Count(event.KindParseError))

	data, err := os.ReadFile(filepath.Join(out, "sw1.log"))
	require.NoError(t, err)
	assert.Equal(t, "#\n<sw1>display version\nVersion 1\n#\n<sw1>display clock\n12:00:01\n#\n<sw1>display fan\nFan ok\n", string(data))
}

func TestRunIsIdempotent(t *testing.T) {
	devices := fixture(t, 3)
	out := t.TempDir()
	conv := &Converter{}

	_, err := conv.Run(context.Background(), devices, out)
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(out, "sw2.log"))
	require.NoError(t, err)

	_, err = conv.Run(context.Background(), devices, out)
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(out, "sw2.log"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRunCancelStopsBeforeNextDevice(t *testing.T) {
	devices := fixture(t, 3)
	out := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conv := &Converter{Report: func(e event.Event) {
		if e.Kind == event.KindDeviceDone {
			cancel()
		}
	}}
	sum, err := conv.Run(ctx, devices, out)
	require.NoError(t, err)

	assert.True(t, sum.Cancelled)
	assert.Equal(t, 1, sum.Converted)
	assert.Equal(t, StatusCancelled, sum.Results[1].Status)
	assert.Equal(t, StatusCancelled, sum.Results[2].Status)

	data, err := os.ReadFile(filepath.Join(out, "sw1.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "<sw1>display clock")
	assert.NoFileExists(t, filepath.Join(out, "sw2.log"))
	assert.NoFileExists(t, filepath.Join(out, "sw3.log"))
}

func TestRunConcurrentMatchesSequential(t *testing.T) {
	devices := fixture(t, 5)
	seqOut, parOut := t.TempDir(), t.TempDir()

	_, err := (&Converter{Workers: 1}).Run(context.Background(), devices, seqOut)
	require.NoError(t, err)

	var c event.Collector
	sum, err := (&Converter{Workers: 3, Report: c.Handle}).Run(context.Background(), devices, parOut)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Converted)

	for _, d := range devices {
		a, err := os.ReadFile(filepath.Join(seqOut, d.Name+".log"))
		require.NoError(t, err)
		b, err := os.ReadFile(filepath.Join(parOut, d.Name+".log"))
		require.NoError(t, err)
		assert.Equal(t, a, b, d.Name)
	}
}

func TestRunSkipsDeviceWithoutCaptures(t *testing.T) {
	meta := filepath.Join(t.TempDir(), "cmd_info_20240101120000.xml")
	devices := []device.Record{{Name: "lonely", IP: "1.1.1.1", Serial: "X", State: "success", SourcePath: meta}}

	out := t.TempDir()
	var c event.Collector
	sum, err := (&Converter{Report: c.Handle}).Run(context.Background(), devices, out)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, c.Count(event.KindDeviceSkipped))
	assert.NoFileExists(t, filepath.Join(out, "lonely.log"))
}

func TestRunOutputLocked(t *testing.T) {
	out := t.TempDir()
	held := flock.New(filepath.Join(out, LockFile))
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	_, err = (&Converter{}).Run(context.Background(), fixture(t, 1), out)
	assert.ErrorIs(t, err, ErrOutputLocked)
}

func TestStartJob(t *testing.T) {
	devices := fixture(t, 2)
	out := t.TempDir()

	job := (&Converter{}).Start(context.Background(), devices, out)

	var kinds []event.Kind
	for e := range job.Events() {
		kinds = append(kinds, e.Kind)
	}
	sum, err := job.Wait()
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Converted)
	require.NotEmpty(t, kinds)
	assert.Equal(t, event.KindRunDone, kinds[len(kinds)-1])

	select {
	case <-job.Done():
	default:
		t.Fatal("job should be done after Wait")
	}
}

func TestStartJobCancelled(t *testing.T) {
	devices := fixture(t, 3)
	out := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := (&Converter{}).Start(ctx, devices, out)
	for range job.Events() {
	}
	sum, err := job.Wait()
	require.NoError(t, err)

	assert.True(t, sum.Cancelled)
	assert.Equal(t, 0, sum.Converted)
}

func TestRunSharedFileNameKeepsLastDevice(t *testing.T) {
	devices := fixture(t, 4)
	for i := range devices {
		devices[i].Name = "core"
	}
	want := "#\n<core>display version\nVersion 4\n#\n<core>display clock\n12:00:04\n"

	for _, workers := range []int{1, 4} {
		for run := 0; run < 10; run++ {
			out := t.TempDir()
			sum, err := (&Converter{Workers: workers}).Run(context.Background(), devices, out)
			require.NoError(t, err)
			assert.Equal(t, 4, sum.Converted)

			data, err := os.ReadFile(filepath.Join(out, "core.log"))
			require.NoError(t, err)
			require.Equal(t, want, string(data), "workers=%d run=%d", workers, run)
		}
	}
}

func TestStartJobCancelWithoutDraining(t *testing.T) {
	devices := fixture(t, 2)
	capDir := filepath.Join(filepath.Dir(devices[0].SourcePath), "cmdsResult", "network")
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("ssh_10.0.0.1_extra%03d.xml", i)
		require.NoError(t, os.WriteFile(filepath.Join(capDir, name),
			[]byte("<c><command>display fan</command><echo>p\nFan ok\np</echo></c>"), 0o644))
	}

	job := (&Converter{}).Start(context.Background(), devices, t.TempDir())
	<-job.Events()
	job.Cancel()

	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish after Cancel with events left unread")
	}

	sum, err := job.Wait()
	require.NoError(t, err)
	assert.True(t, sum.Cancelled)
	assert.Equal(t, StatusCancelled, sum.Results[1].Status)
}
