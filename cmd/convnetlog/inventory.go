package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/davidzhou73/convnetlog/internal/db"
	"github.com/davidzhou73/convnetlog/internal/logger"
	"github.com/davidzhou73/convnetlog/internal/session"
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Manage the device inventory database",
	Long: `Manage the persistent device inventory database.

The inventory keeps every device seen by 'inventory sync', the state
changes observed between syncs, and the history of recorded conversions.`,
}

var inventorySyncCmd = &cobra.Command{
	Use:   "sync <root>",
	Short: "Sync discovered devices to the inventory",
	Long: `Discover the devices under a collection root and update the inventory.

This command:
  - Creates records for devices not seen before
  - Updates state, source and last seen for known devices
  - Records state change and source move events`,
	Args: cobra.ExactArgs(1),
	Run:  runInventorySync,
}

var inventoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all known devices",
	Run:   runInventoryList,
}

var inventoryEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent device events",
	Run:   runInventoryEvents,
}

var inventoryConversionsCmd = &cobra.Command{
	Use:   "conversions",
	Short: "Show recorded conversions",
	Run:   runInventoryConversions,
}

func init() {
	inventoryCmd.AddCommand(inventorySyncCmd)
	inventoryCmd.AddCommand(inventoryListCmd)
	inventoryCmd.AddCommand(inventoryEventsCmd)
	inventoryCmd.AddCommand(inventoryConversionsCmd)

	inventoryListCmd.Flags().Bool("json", false, "Output as JSON")
	inventoryListCmd.Flags().String("state", "", "Filter by collection state")

	inventoryEventsCmd.Flags().Int("limit", 50, "Maximum number of events to show")

	inventoryConversionsCmd.Flags().String("run", "", "Show a single run by ID")
	inventoryConversionsCmd.Flags().Int("limit", 50, "Maximum number of rows to show")
}

func openDB(path string) *db.DB {
	database, err := db.New(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	return database
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

func runInventorySync(cmd *cobra.Command, args []string) {
	cfg := setup()
	records, _, err := session.New(cfg, logger.WithComponent("inventory")).Discover(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error discovering devices: %v\n", err)
		os.Exit(1)
	}

	database := openDB(cfg.Database.Path)
	defer database.Close()

	res, err := database.SyncDevices(records)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error syncing inventory: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Synced %d devices: %d new, %d updated, %d events\n",
		len(records), res.Created, res.Updated, res.Events)
}

func runInventoryList(cmd *cobra.Command, args []string) {
	jsonOut, _ := cmd.Flags().GetBool("json")
	state, _ := cmd.Flags().GetString("state")

	cfg := setup()
	database := openDB(cfg.Database.Path)
	defer database.Close()

	devices, err := database.ListDevices(state)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error querying devices: %v\n", err)
		os.Exit(1)
	}

	if jsonOut {
		if devices == nil {
			devices = []*db.DeviceRecord{}
		}
		printJSON(devices)
		return
	}

	if len(devices) == 0 {
		fmt.Println("No devices in inventory. Run 'convnetlog inventory sync <root>' to populate.")
		return
	}

	fmt.Printf("%-24s %-16s %-20s %-10s %s\n", "NAME", "IP", "SERIAL", "STATE", "LAST SEEN")
	for _, d := range devices {
		fmt.Printf("%-24s %-16s %-20s %-10s %s\n",
			d.Name, d.IP, d.Serial, d.State, humanize.Time(d.LastSeen))
	}

	total, failed, err := database.DeviceCount()
	if err == nil {
		fmt.Printf("\nTotal: %d | Not successful: %d\n", total, failed)
	}
}

func runInventoryEvents(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	cfg := setup()
	database := openDB(cfg.Database.Path)
	defer database.Close()

	events, err := database.RecentEvents(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error querying events: %v\n", err)
		os.Exit(1)
	}

	if len(events) == 0 {
		fmt.Println("No events recorded.")
		return
	}

	fmt.Printf("%-20s %-24s %-14s %-20s %s\n", "TIMESTAMP", "DEVICE", "TYPE", "OLD", "NEW")
	for _, e := range events {
		fmt.Printf("%-20s %-24s %-14s %-20s %s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Device, e.EventType, e.OldValue, e.NewValue)
	}
}

func runInventoryConversions(cmd *cobra.Command, args []string) {
	runID, _ := cmd.Flags().GetString("run")
	limit, _ := cmd.Flags().GetInt("limit")

	cfg := setup()
	database := openDB(cfg.Database.Path)
	defer database.Close()

	var rows []*db.ConversionRecord
	var err error
	if runID != "" {
		rows, err = database.ConversionsForRun(runID)
	} else {
		rows, err = database.RecentConversions(limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error querying conversions: %v\n", err)
		os.Exit(1)
	}

	if len(rows) == 0 {
		fmt.Println("No conversions recorded. Use 'convnetlog convert --record' to keep history.")
		return
	}

	fmt.Printf("%-36s %-24s %-10s %-9s %-10s %s\n", "RUN", "DEVICE", "STATUS", "COMMANDS", "SIZE", "FINISHED")
	for _, c := range rows {
		fmt.Printf("%-36s %-24s %-10s %-9d %-10s %s\n",
			c.RunID, c.DeviceName, c.Status, c.Entries, humanize.Bytes(uint64(c.Bytes)), humanize.Time(c.Finished))
		if c.Error != "" {
			fmt.Printf("    error: %s\n", c.Error)
		}
	}
}
