package fwmeta

import (
	"fmt"
	"strconv"
	"strings"
)

// The three version bytes of a metadata block. Each is an opaque 0-255 value;
// nothing (not even 255) is a sentinel.
type Version struct {
	Major uint8
	Minor uint8
	Patch uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Parse "MAJOR.MINOR.PATCH". A leading "v" is allowed, and missing trailing
// components are zero ("2" is 2.0.0)
func ParseVersion(s string) (Version, error) {
	var v Version
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "v")
	if trimmed == "" {
		return v, fmt.Errorf("empty version string")
	}
	parts := strings.Split(trimmed, ".")
	if len(parts) > 3 {
		return v, fmt.Errorf("version %q has too many components", s)
	}
	targets := []*uint8{&v.Major, &v.Minor, &v.Patch}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return Version{}, fmt.Errorf("version %q: component %d: %w", s, i+1, err)
		}
		*targets[i] = uint8(n)
	}
	return v, nil
}

// Compare returns -1, 0 or 1 as v is older than, equal to or newer than other
func (v Version) Compare(other Version) int {
	a := []uint8{v.Major, v.Minor, v.Patch}
	b := []uint8{other.Major, other.Minor, other.Patch}
	for i := range a {
		if a[i] < b[i] {
			return -1
		} else if a[i] > b[i] {
			return 1
		}
	}
	return 0
}

func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
