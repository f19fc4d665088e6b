package fwmeta

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lunixbochs/struc"
)

// Wire layout of one block. Offsets are fixed; see the constants in metadata.go
type rawBlock struct {
	MarkerStart  uint32 `struc:"uint32,little"` // 0x00, 4
	EnvName      []byte `struc:"[32]byte"`      // 0x04, 32
	DeviceType   []byte `struc:"[16]byte"`      // 0x24, 16
	VersionMajor uint8  `struc:"uint8"`         // 0x34, 1
	VersionMinor uint8  `struc:"uint8"`         // 0x35, 1
	VersionPatch uint8  `struc:"uint8"`         // 0x36, 1
	Reserved1    uint8  `struc:"uint8"`         // 0x37, 1
	BuildDate    []byte `struc:"[48]byte"`      // 0x38, 48
	Reserved     []byte `struc:"[20]byte"`      // 0x68, 20
	MarkerEnd    uint32 `struc:"uint32,little"` // 0x7C, 4
}

// Read the 4 byte little-endian value at the given index
func markerAt(data []byte, index int) uint32 {
	return binary.LittleEndian.Uint32(data[index : index+4])
}

// Fit the text into a zeroed slot of the given capacity. The last byte of the
// slot is never written, so the slot is always NUL terminated.
func encodeText(f textField, policy TruncatePolicy) ([]byte, error) {
	if policy == TruncateStrict {
		if err := checkText(f); err != nil {
			return nil, err
		}
	}
	slot := make([]byte, f.capacity)
	copy(slot[:f.capacity-1], f.value)
	return slot, nil
}

// Encode the metadata into a brand new block
func Encode(m *Metadata, policy TruncatePolicy) ([]byte, error) {
	block := make([]byte, BlockSize)
	if err := EncodeInto(block, m, policy); err != nil {
		return nil, err
	}
	return block, nil
}

// Encode the metadata into the first BlockSize bytes of dst. On error, dst is
// left untouched.
func EncodeInto(dst []byte, m *Metadata, policy TruncatePolicy) error {
	if m == nil {
		return fmt.Errorf("can't encode nil metadata")
	}
	if len(dst) < BlockSize {
		return ErrShortBlock
	}
	slots := make([][]byte, 0, 3)
	for _, f := range m.textFields() {
		slot, err := encodeText(f, policy)
		if err != nil {
			return err
		}
		slots = append(slots, slot)
	}
	raw := rawBlock{
		MarkerStart:  MarkerStart,
		EnvName:      slots[0],
		DeviceType:   slots[1],
		VersionMajor: m.Version.Major,
		VersionMinor: m.Version.Minor,
		VersionPatch: m.Version.Patch,
		BuildDate:    slots[2],
		Reserved:     make([]byte, ReservedLength),
		MarkerEnd:    MarkerEnd,
	}
	var buf bytes.Buffer
	if err := struc.Pack(&buf, &raw); err != nil {
		return err
	}
	if buf.Len() != BlockSize {
		return fmt.Errorf("FWMETA PROGRAM ERROR: packed block is %d bytes, expected %d", buf.Len(), BlockSize)
	}
	copy(dst, buf.Bytes())
	return nil
}

// The maximal run of non-zero bytes at the start of the slot
func slotText(slot []byte) []byte {
	if end := bytes.IndexByte(slot, 0); end >= 0 {
		return slot[:end]
	}
	return slot
}

func decodeText(field string, slot []byte, mode TextMode) (string, error) {
	raw := slotText(slot)
	switch mode {
	case TextIgnore:
		return strings.ToValidUTF8(string(raw), ""), nil
	case TextReplace:
		return strings.ToValidUTF8(string(raw), string(utf8.RuneError)), nil
	case TextStrict:
		if !utf8.Valid(raw) {
			return "", &FieldError{Field: field, Length: len(raw), Err: ErrInvalidText}
		}
		return string(raw), nil
	}
	return "", fmt.Errorf("unknown text mode %s", mode)
}

// Decode the block at the start of data. Only the first BlockSize bytes are
// looked at. Markers are checked before anything else: start first, then end.
func Decode(data []byte, mode TextMode) (*Metadata, error) {
	if len(data) < BlockSize {
		return nil, ErrShortBlock
	}
	if got := markerAt(data, MarkerStartOffset); got != MarkerStart {
		return nil, &FormatError{Marker: StartMarker, Got: got, Want: MarkerStart}
	}
	if got := markerAt(data, MarkerEndOffset); got != MarkerEnd {
		return nil, &FormatError{Marker: EndMarker, Got: got, Want: MarkerEnd}
	}
	var raw rawBlock
	if err := struc.Unpack(bytes.NewReader(data[:BlockSize]), &raw); err != nil {
		return nil, err
	}
	result := Metadata{
		Version: Version{
			Major: raw.VersionMajor,
			Minor: raw.VersionMinor,
			Patch: raw.VersionPatch,
		},
	}
	var err error
	if result.EnvName, err = decodeText(FieldEnvName, raw.EnvName, mode); err != nil {
		return nil, err
	}
	if result.DeviceType, err = decodeText(FieldDeviceType, raw.DeviceType, mode); err != nil {
		return nil, err
	}
	if result.BuildDate, err = decodeText(FieldBuildDate, raw.BuildDate, mode); err != nil {
		return nil, err
	}
	return &result, nil
}

// Embed returns a copy of image with the encoded block written at offset.
// The image passed in is never modified.
func Embed(image []byte, offset int, m *Metadata, policy TruncatePolicy) ([]byte, error) {
	if offset < 0 || offset > len(image)-BlockSize {
		return nil, fmt.Errorf("%w: block at %d doesn't fit image of %d bytes", ErrOutOfRange, offset, len(image))
	}
	result := make([]byte, len(image))
	copy(result, image)
	if err := EncodeInto(result[offset:], m, policy); err != nil {
		return nil, err
	}
	return result, nil
}
