package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidzhou73/convnetlog/internal/device"
	"github.com/davidzhou73/convnetlog/internal/logger"
	"github.com/davidzhou73/convnetlog/internal/session"
)

var discoverCmd = &cobra.Command{
	Use:   "discover <root>",
	Short: "List the devices found under a collection root",
	Long: `Walk a collection root, pick the newest snapshot of every BrainCollect
directory and list the devices recorded in its metadata.

Devices whose collection did not succeed are marked with "!".`,
	Args: cobra.ExactArgs(1),
	Run:  runDiscover,
}

var commandsCmd = &cobra.Command{
	Use:   "commands <root> <device>",
	Short: "List the commands captured for a device",
	Long: `List the distinct commands captured for a device, in the order they
first appear. The device may be given by name, IP address or serial.`,
	Args: cobra.ExactArgs(2),
	Run:  runCommands,
}

var resultCmd = &cobra.Command{
	Use:   "result <root> <device> <command>",
	Short: "Show the captured output of a command",
	Args:  cobra.ExactArgs(3),
	Run:   runResult,
}

func init() {
	discoverCmd.Flags().Bool("json", false, "Output as JSON")
	discoverCmd.Flags().Bool("failed", false, "Only show devices whose collection did not succeed")
}

// discoverSession builds a session and runs discovery over root
func discoverSession(root string) (*session.Session, []device.Record) {
	cfg := setup()
	s := session.New(cfg, logger.WithComponent("discover"))

	records, _, err := s.Discover(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error discovering devices: %v\n", err)
		os.Exit(1)
	}
	return s, records
}

func lookupDevice(s *session.Session, query string) device.Record {
	rec, err := s.Lookup(query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return rec
}

func runDiscover(cmd *cobra.Command, args []string) {
	jsonOut, _ := cmd.Flags().GetBool("json")
	failedOnly, _ := cmd.Flags().GetBool("failed")

	_, records := discoverSession(args[0])

	if failedOnly {
		var failed []device.Record
		for _, r := range records {
			if !r.Succeeded() {
				failed = append(failed, r)
			}
		}
		records = failed
	}

	if jsonOut {
		if err := device.PrintJSON(os.Stdout, records); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(records) == 0 {
		fmt.Println("No devices found.")
		return
	}
	device.PrintTable(os.Stdout, records)
}

func runCommands(cmd *cobra.Command, args []string) {
	s, _ := discoverSession(args[0])
	rec := lookupDevice(s, args[1])

	cmds, err := s.ListCommands(rec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading captures for %s: %v\n", rec.Name, err)
		os.Exit(1)
	}

	if len(cmds) == 0 {
		fmt.Printf("No commands captured for %s.\n", rec.Name)
		return
	}
	for _, c := range cmds {
		fmt.Println(c)
	}
}

func runResult(cmd *cobra.Command, args []string) {
	s, _ := discoverSession(args[0])
	rec := lookupDevice(s, args[1])

	out, ok := s.GetResult(rec, args[2])
	if !ok {
		fmt.Fprintln(os.Stderr, out)
		os.Exit(1)
	}
	fmt.Print(out)
}
