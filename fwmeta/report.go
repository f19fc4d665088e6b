package fwmeta

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml"
)

// The result of searching one image, ready to be rendered. Key names for the
// metadata fields match what the firmware's own info endpoint serves.
type Report struct {
	Valid       bool   `json:"valid" toml:"valid"`
	Image       string `json:"image,omitempty" toml:"image,omitempty"`
	ImageFormat string `json:"image_format,omitempty" toml:"image_format,omitempty"`
	ImageSize   int    `json:"image_size" toml:"image_size"`
	Digest      string `json:"digest,omitempty" toml:"digest,omitempty"`
	Offset      int    `json:"offset" toml:"offset"` // -1 when not found
	OffsetHex   string `json:"offset_hex,omitempty" toml:"offset_hex,omitempty"`
	Env         string `json:"env,omitempty" toml:"env,omitempty"`
	Device      string `json:"device,omitempty" toml:"device,omitempty"`
	Version     string `json:"version,omitempty" toml:"version,omitempty"`
	BuildDate   string `json:"build_date,omitempty" toml:"build_date,omitempty"`
	Candidates  []int  `json:"candidates,omitempty" toml:"candidates,omitempty"`
}

// Build the report for an image. located may be nil (no metadata found)
func NewReport(img *Image, located *Located) *Report {
	r := Report{Offset: -1}
	if img != nil {
		r.Image = img.Source
		r.ImageFormat = img.Format.String()
		r.ImageSize = len(img.Data)
		r.Digest = img.Digest()
	}
	if located != nil && located.Metadata != nil {
		r.Valid = true
		r.Offset = located.Offset
		r.OffsetHex = fmt.Sprintf("0x%08X", located.Offset)
		r.Env = located.Metadata.EnvName
		r.Device = located.Metadata.DeviceType
		r.Version = located.Metadata.Version.String()
		r.BuildDate = located.Metadata.BuildDate
	}
	return &r
}

func WriteReportsJSON(reports []*Report, w io.Writer) error {
	var obj interface{} = reports
	if len(reports) == 1 {
		obj = reports[0]
	}
	raw, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(raw))
	return err
}

// TOML has no top level arrays, so each report becomes a [[report]] table
func WriteReportsTOML(reports []*Report, w io.Writer) error {
	wrapper := struct {
		Report []*Report `toml:"report"`
	}{reports}
	raw, err := toml.Marshal(wrapper)
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}

// Human readable layout, one block per report
func WriteReportsText(reports []*Report, w io.Writer) error {
	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if err := r.WriteText(w); err != nil {
			return err
		}
	}
	return nil
}

func (r *Report) WriteText(w io.Writer) error {
	name := r.Image
	if name == "" {
		name = "image"
	}
	fmt.Fprintf(w, "Searching for metadata in %s (%s, %s)...\n", name, humanize.IBytes(uint64(r.ImageSize)), r.ImageFormat)
	if !r.Valid {
		_, err := fmt.Fprintf(w, "\n✗ No metadata found\n")
		return err
	}
	fmt.Fprintf(w, "\n✓ Found metadata at offset: %s\n\n", r.OffsetHex)
	fmt.Fprintf(w, "Environment:  %s\n", r.Env)
	fmt.Fprintf(w, "Device Type:  %s\n", r.Device)
	fmt.Fprintf(w, "Version:      %s\n", r.Version)
	fmt.Fprintf(w, "Build Date:   %s\n", r.BuildDate)
	if len(r.Candidates) > 1 {
		fmt.Fprintf(w, "Candidates:   %v (first one wins)\n", r.Candidates)
	}
	_, err := fmt.Fprintf(w, "\nMetadata is VALID ●\n")
	return err
}

// One-line (two with the build date) firmware description. ● marks embedded
// metadata; * marks the fallback when there isn't any.
func InfoString(m *Metadata, includeBuildDate bool) string {
	if m == nil {
		if includeBuildDate {
			return "Firmware: unknown *\n(No embedded metadata)"
		}
		return "Firmware: unknown *"
	}
	info := fmt.Sprintf("Firmware: %s %s v%s ●", m.DeviceType, m.EnvName, m.Version)
	if includeBuildDate {
		info += "\nBuilt: " + m.BuildDate
	}
	return info
}
