package device

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a query doesn't match any device
var ErrNotFound = errors.New("device not found")

// States reported by the collector for a device
const (
	StateSuccess   = "success"
	StateSuccessZH = "成功"
)

// Record is one device found in a metadata file
type Record struct {
	Name   string `json:"name"`
	IP     string `json:"ip"`
	Serial string `json:"serial"`
	State  string `json:"state"`
	// SourcePath is the absolute path of the metadata file the record came from
	SourcePath string `json:"source_path"`
}

// Key identifies a device across metadata files
type Key struct {
	Name   string
	IP     string
	Serial string
}

// Key returns the identity key of the record
func (r Record) Key() Key {
	return Key{Name: r.Name, IP: r.IP, Serial: r.Serial}
}

// Succeeded reports whether collection succeeded for the device
func (r Record) Succeeded() bool {
	return r.State == StateSuccess || r.State == StateSuccessZH
}

func (r Record) String() string {
	return fmt.Sprintf("%s - %s - %s - %s", r.Name, r.IP, r.Serial, r.State)
}

// MissingFieldError describes a device element that lacks a required field
type MissingFieldError struct {
	Path  string
	Index int
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("device #%d in %s has no %s", e.Index, e.Path, e.Field)
}
