package convert

import (
	"context"

	"github.com/davidzhou73/convnetlog/internal/device"
	"github.com/davidzhou73/convnetlog/internal/event"
)

// Job is a conversion running in the background
type Job struct {
	events chan event.Event
	cancel context.CancelFunc
	done   chan struct{}

	summary Summary
	err     error
}

// Start runs the conversion on its own goroutine. Progress arrives on
// Events, which is closed when the run ends; callers must drain it.
func (c *Converter) Start(ctx context.Context, devices []device.Record, outputDir string) *Job {
	ctx, cancel := context.WithCancel(ctx)
	j := &Job{
		events: make(chan event.Event, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	conv := *c
	// Once cancelled nobody may be reading, so sends give up instead of
	// blocking the run
	conv.Report = event.Tee(c.Report, func(e event.Event) {
		select {
		case j.events <- e:
		case <-ctx.Done():
		}
	})

	go func() {
		defer close(j.done)
		defer cancel()

		j.summary, j.err = conv.Run(ctx, devices, outputDir)
		close(j.events)
	}()

	return j
}

// Events returns the progress channel
func (j *Job) Events() <-chan event.Event {
	return j.events
}

// Cancel asks the job to stop before the next device
func (j *Job) Cancel() {
	j.cancel()
}

// Done is closed once the job has finished
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes and returns its outcome
func (j *Job) Wait() (Summary, error) {
	<-j.done
	return j.summary, j.err
}
