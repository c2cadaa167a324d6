// Package device reads device metadata from collection runs and keeps the
// deduplicated set of devices for a session.
package device

import (
	"fmt"
	"path/filepath"

	"github.com/davidzhou73/convnetlog/internal/xmldoc"
)

// DefaultMetadataPattern matches metadata files such as cmd_info_20240101120000.xml
const DefaultMetadataPattern = `^cmd_info_\d{14}\.xml$`

// Metadata element names
const (
	tagDevice = "device"
	tagName   = "name"
	tagIP     = "ip"
	tagSerial = "sn"
	tagState  = "state"
)

// ReadDevices parses the metadata file at path.
//
// Device elements missing any of name, ip, sn or state are skipped and
// reported in the second return value as *MissingFieldError. A document
// that cannot be parsed returns *xmldoc.ParseError and no records.
func ReadDevices(path string) ([]Record, []error, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	doc, err := xmldoc.Open(abs)
	if err != nil {
		return nil, nil, err
	}

	var (
		records []Record
		skipped []error
	)

	for i, el := range xmldoc.Children(doc.Root(), tagDevice) {
		rec := Record{
			Name:       xmldoc.ChildText(el, tagName),
			IP:         xmldoc.ChildText(el, tagIP),
			Serial:     xmldoc.ChildText(el, tagSerial),
			State:      xmldoc.ChildText(el, tagState),
			SourcePath: abs,
		}

		if field := missingField(rec); field != "" {
			skipped = append(skipped, &MissingFieldError{Path: abs, Index: i + 1, Field: field})
			continue
		}

		records = append(records, rec)
	}

	return records, skipped, nil
}

func missingField(r Record) string {
	switch {
	case r.Name == "":
		return tagName
	case r.IP == "":
		return tagIP
	case r.Serial == "":
		return tagSerial
	case r.State == "":
		return tagState
	}
	return ""
}
