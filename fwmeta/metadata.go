package fwmeta

import (
	"fmt"
	"strings"
)

const (
	MarkerStart uint32 = 0x464D5441 // "ATMF" on disk, "FMTA" read little-endian
	MarkerEnd   uint32 = 0x454E4446 // "FDNE" on disk, "ENDF" read little-endian

	BlockSize = 128 // The whole metadata block, markers included

	MarkerStartOffset  = 0
	EnvNameOffset      = 4
	EnvNameCapacity    = 32
	DeviceTypeOffset   = 36
	DeviceTypeCapacity = 16
	VersionMajorOffset = 52
	VersionMinorOffset = 53
	VersionPatchOffset = 54
	Reserved1Offset    = 55 // Alignment byte
	BuildDateOffset    = 56
	BuildDateCapacity  = 48
	ReservedOffset     = 104 // Space for future fields
	ReservedLength     = 20
	MarkerEndOffset    = BlockSize - 4

	// The build date layout the firmware build scripts stamp in
	BuildDateLayout = "02-01-2006 15:04:05"
)

// Field names, as used in errors and reports
const (
	FieldEnvName    = "env_name"
	FieldDeviceType = "device_type"
	FieldBuildDate  = "build_date"
)

// All data held in a firmware metadata block (just the typed fields, not the
// markers or reserved space)
type Metadata struct {
	EnvName    string  `json:"env" toml:"env"`
	DeviceType string  `json:"device" toml:"device"`
	Version    Version `json:"version" toml:"version"`
	BuildDate  string  `json:"build_date" toml:"build_date"`
}

// How text slots are turned back into strings on decode
type TextMode int

const (
	TextIgnore  TextMode = iota // Drop bytes that aren't valid UTF-8
	TextReplace                 // Replace invalid sequences with U+FFFD
	TextStrict                  // Fail the decode on invalid UTF-8
)

var textModeNames = map[TextMode]string{
	TextIgnore:  "ignore",
	TextReplace: "replace",
	TextStrict:  "strict",
}

func (m TextMode) String() string {
	if name, ok := textModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("TextMode(%d)", int(m))
}

func ParseTextMode(s string) (TextMode, error) {
	for mode, name := range textModeNames {
		if strings.EqualFold(s, name) {
			return mode, nil
		}
	}
	return TextIgnore, fmt.Errorf("unknown text mode %q (expected ignore, replace or strict)", s)
}

// What Encode does with text that doesn't fit its slot
type TruncatePolicy int

const (
	// Cut oversized text to capacity-1 bytes so the slot stays NUL terminated.
	// This is what the firmware build itself does.
	TruncateSilently TruncatePolicy = iota
	// Refuse oversized text (or text with an embedded NUL) with a FieldError
	TruncateStrict
)

type textField struct {
	name     string
	value    string
	offset   int
	capacity int
}

func (m *Metadata) textFields() []textField {
	return []textField{
		{FieldEnvName, m.EnvName, EnvNameOffset, EnvNameCapacity},
		{FieldDeviceType, m.DeviceType, DeviceTypeOffset, DeviceTypeCapacity},
		{FieldBuildDate, m.BuildDate, BuildDateOffset, BuildDateCapacity},
	}
}

// Validate reports the first text field a strict encode would reject: one
// that would be truncated, or one whose embedded NUL would cut it short.
func (m *Metadata) Validate() error {
	for _, f := range m.textFields() {
		if err := checkText(f); err != nil {
			return err
		}
	}
	return nil
}

func checkText(f textField) error {
	if len(f.value) > f.capacity-1 {
		return &FieldError{Field: f.name, Length: len(f.value), Capacity: f.capacity, Err: ErrFieldTooLong}
	}
	if strings.IndexByte(f.value, 0) >= 0 {
		return &FieldError{Field: f.name, Err: ErrFieldHasNul}
	}
	return nil
}

func (m *Metadata) String() string {
	return fmt.Sprintf("%s %s v%s (%s)", m.DeviceType, m.EnvName, m.Version, m.BuildDate)
}
