package device

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// PrintJSON outputs records as indented JSON
func PrintJSON(w io.Writer, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// PrintTable outputs records as a table. Devices whose collection did not
// succeed are flagged with "!".
func PrintTable(w io.Writer, records []Record) {
	nameW, ipW, snW := len("NAME"), len("IP"), len("SERIAL")
	for _, r := range records {
		nameW = max(nameW, len(r.Name))
		ipW = max(ipW, len(r.IP))
		snW = max(snW, len(r.Serial))
	}

	format := fmt.Sprintf("%%-1s %%-%ds  %%-%ds  %%-%ds  %%s\n", nameW, ipW, snW)
	fmt.Fprintf(w, format, "", "NAME", "IP", "SERIAL", "STATE")
	fmt.Fprintln(w, strings.Repeat("-", nameW+ipW+snW+16))

	failed := 0
	for _, r := range records {
		flag := ""
		if !r.Succeeded() {
			flag = "!"
			failed++
		}
		fmt.Fprintf(w, format, flag, r.Name, r.IP, r.Serial, r.State)
	}

	fmt.Fprintln(w, strings.Repeat("-", nameW+ipW+snW+16))
	fmt.Fprintf(w, "Total: %d | Not successful: %d\n", len(records), failed)
}
