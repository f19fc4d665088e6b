package fwmeta

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/marcinbor85/gohex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func firmwareFixture(t *testing.T) []byte {
	t.Helper()
	return mustEmbed(t, noise(10000, 12), 4321, sampleMetadata())
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zstded(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestLoadImage_Formats(t *testing.T) {
	firmware := firmwareFixture(t)
	var hexbuf bytes.Buffer
	require.NoError(t, BinToHex(firmware, 0x10000, &hexbuf))

	cases := []struct {
		name   string
		data   []byte
		format ImageFormat
	}{
		{"firmware.bin", firmware, FormatRaw},
		{"firmware.bin.gz", gzipped(t, firmware), FormatGzip},
		{"firmware.bin.zst", zstded(t, firmware), FormatZstd},
		{"firmware.hex", hexbuf.Bytes(), FormatHex},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := writeTemp(t, c.name, c.data)
			img, err := LoadImage(path, FormatAuto, 0)
			require.NoError(t, err)
			assert.Equal(t, c.format, img.Format)
			assert.Equal(t, path, img.Source)
			assert.Equal(t, firmware, img.Data)
			assert.Equal(t, 4321, Locate(img.Data))

			// Same result with the format given explicitly
			img, err = LoadImage(path, c.format, 0)
			require.NoError(t, err)
			assert.Equal(t, firmware, img.Data)
		})
	}
}

func TestReadImage_Sniff(t *testing.T) {
	firmware := firmwareFixture(t)
	var hexbuf bytes.Buffer
	require.NoError(t, BinToHex(firmware, 0, &hexbuf))

	for expected, data := range map[ImageFormat][]byte{
		FormatRaw:  firmware,
		FormatGzip: gzipped(t, firmware),
		FormatZstd: zstded(t, firmware),
		FormatHex:  hexbuf.Bytes(),
	} {
		img, err := ReadImage(bytes.NewReader(data), FormatAuto, 0)
		require.NoError(t, err, expected.String())
		assert.Equal(t, expected, img.Format)
		assert.Equal(t, firmware, img.Data)
	}

	// Nothing to sniff is still a (raw, empty) image
	img, err := ReadImage(bytes.NewReader(nil), FormatAuto, 0)
	require.NoError(t, err)
	assert.Equal(t, FormatRaw, img.Format)
	assert.Empty(t, img.Data)
}

func TestReadImage_MaxSize(t *testing.T) {
	data := bytes.Repeat([]byte{1}, 100)
	img, err := ReadImage(bytes.NewReader(data), FormatRaw, 100)
	require.NoError(t, err)
	assert.Len(t, img.Data, 100)

	_, err = ReadImage(bytes.NewReader(data), FormatRaw, 99)
	assert.ErrorIs(t, err, ErrImageTooLarge)

	// The limit is on the decompressed size
	_, err = ReadImage(bytes.NewReader(gzipped(t, data)), FormatGzip, 50)
	assert.ErrorIs(t, err, ErrImageTooLarge)
	_, err = ReadImage(bytes.NewReader(zstded(t, data)), FormatZstd, 50)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestHexToBin_Gaps(t *testing.T) {
	mem := gohex.NewMemory()
	require.NoError(t, mem.AddBinary(0x2000, []byte{1, 2, 3, 4}))
	require.NoError(t, mem.AddBinary(0x2010, []byte{5, 6}))
	var buf bytes.Buffer
	require.NoError(t, mem.DumpIntelHex(&buf, 16))

	data, base, err := HexToBin(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x2000), base)
	require.Len(t, data, 0x12)
	assert.Equal(t, []byte{1, 2, 3, 4}, data[:4])
	assert.Equal(t, bytes.Repeat([]byte{HexPadding}, 12), data[4:0x10])
	assert.Equal(t, []byte{5, 6}, data[0x10:])
}

func TestHexToBin_Errors(t *testing.T) {
	_, _, err := HexToBin(strings.NewReader(":00000001FF\n"), 0)
	assert.ErrorIs(t, err, ErrEmptyHex)

	_, _, err = HexToBin(strings.NewReader("this is not hex\n"), 0)
	assert.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, BinToHex(make([]byte, 64), 0, &buf))
	_, _, err = HexToBin(&buf, 32)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestLoadImage_Missing(t *testing.T) {
	_, err := LoadImage(filepath.Join(t.TempDir(), "nope.bin"), FormatAuto, 0)
	assert.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatHex, DetectFormat("a/b/firmware.HEX"))
	assert.Equal(t, FormatHex, DetectFormat("firmware.ihx"))
	assert.Equal(t, FormatGzip, DetectFormat("firmware.bin.gz"))
	assert.Equal(t, FormatZstd, DetectFormat("firmware.zst"))
	assert.Equal(t, FormatRaw, DetectFormat("firmware.bin"))
	assert.Equal(t, FormatRaw, DetectFormat("firmware"))
}

func TestParseImageFormat(t *testing.T) {
	for _, f := range []ImageFormat{FormatAuto, FormatRaw, FormatHex, FormatGzip, FormatZstd} {
		parsed, err := ParseImageFormat(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, parsed)
	}
	_, err := ParseImageFormat("elf")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestImageDigest(t *testing.T) {
	a := Image{Data: []byte("firmware")}
	b := Image{Data: []byte("firmwarf")}
	assert.Len(t, a.Digest(), 16)
	assert.Equal(t, a.Digest(), (&Image{Data: []byte("firmware")}).Digest())
	assert.NotEqual(t, a.Digest(), b.Digest())
}
