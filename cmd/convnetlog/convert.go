package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/davidzhou73/convnetlog/internal/convert"
	"github.com/davidzhou73/convnetlog/internal/db"
	"github.com/davidzhou73/convnetlog/internal/event"
	"github.com/davidzhou73/convnetlog/internal/logger"
	"github.com/davidzhou73/convnetlog/internal/session"
)

var convertCmd = &cobra.Command{
	Use:   "convert <root>",
	Short: "Convert every discovered device to a transcript",
	Long: `Discover the devices under a collection root and write one transcript
per device to the output directory, named after the device.

Each run rewrites the transcripts it produces. Press Ctrl-C to stop after
the device currently being converted.`,
	Args: cobra.ExactArgs(1),
	Run:  runConvert,
}

func init() {
	convertCmd.Flags().StringP("output", "o", "", "output directory (default from config)")
	convertCmd.Flags().IntP("workers", "w", 0, "devices converted at once (default from config)")
	convertCmd.Flags().Bool("record", false, "Record the run in the inventory database")
}

func runConvert(cmd *cobra.Command, args []string) {
	outDir, _ := cmd.Flags().GetString("output")
	workers, _ := cmd.Flags().GetInt("workers")
	record, _ := cmd.Flags().GetBool("record")

	cfg := setup()
	if outDir == "" {
		outDir = cfg.OutputDir
	}
	if outDir == "" {
		fmt.Fprintln(os.Stderr, "Error: no output directory, use --output or set output_dir")
		os.Exit(1)
	}
	if workers > 0 {
		cfg.Workers = workers
	}

	s := session.New(cfg, logger.WithComponent("convert"))
	records, _, err := s.Discover(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error discovering devices: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("No devices found.")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mu sync.Mutex
	done := 0
	progress := func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch e.Kind {
		case event.KindDeviceDone, event.KindDeviceSkipped, event.KindDeviceFailed:
			done++
			fmt.Printf("[%d/%d] %s\n", done, len(records), e)
		case event.KindCancelled:
			fmt.Println(e)
		}
	}

	sum, err := s.ConvertAll(ctx, records, outDir, progress)
	if err != nil {
		if errors.Is(err, convert.ErrOutputLocked) {
			fmt.Fprintf(os.Stderr, "Error: %v (is another conversion running?)\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error converting: %v\n", err)
		}
		os.Exit(1)
	}

	printSummary(sum)

	if record {
		if err := recordRun(cfg.Database.Path, sum); err != nil {
			fmt.Fprintf(os.Stderr, "Error recording run: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Recorded run %s\n", sum.RunID)
	}

	if sum.Failed > 0 || sum.Cancelled {
		os.Exit(1)
	}
}

func printSummary(sum convert.Summary) {
	fmt.Println()
	fmt.Printf("Run:       %s\n", sum.RunID)
	fmt.Printf("Devices:   %d (converted %d, skipped %d, failed %d)\n",
		sum.Devices, sum.Converted, sum.Skipped, sum.Failed)
	fmt.Printf("Files:     %d\n", sum.Files)
	fmt.Printf("Commands:  %d\n", sum.Entries)
	fmt.Printf("Written:   %s\n", humanize.Bytes(uint64(sum.Bytes)))
	fmt.Printf("Duration:  %s\n", sum.Finished.Sub(sum.Started).Round(time.Millisecond))
	if sum.Cancelled {
		fmt.Println("Cancelled before all devices were converted")
	}
}

func recordRun(path string, sum convert.Summary) error {
	database, err := db.New(path)
	if err != nil {
		return err
	}
	defer database.Close()

	for _, r := range sum.Results {
		row := &db.ConversionRecord{
			RunID:        sum.RunID,
			DeviceName:   r.Device.Name,
			DeviceIP:     r.Device.IP,
			DeviceSerial: r.Device.Serial,
			Status:       r.Status,
			OutputPath:   r.Path,
			Files:        r.Files,
			Entries:      r.Entries,
			Bytes:        r.Bytes,
			Started:      r.Started,
			Finished:     r.Finished,
		}
		if r.Err != nil {
			row.Error = r.Err.Error()
		}
		// Devices never started carry no times
		if row.Started.IsZero() {
			row.Started, row.Finished = sum.Finished, sum.Finished
		}
		if err := database.RecordConversion(row); err != nil {
			return err
		}
	}
	return nil
}
