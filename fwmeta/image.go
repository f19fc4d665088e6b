package fwmeta

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

const (
	DefaultMaxImageSize = 64 << 20
	HexPadding          = 0xFF // Unprogrammed flash
	HexLineLength       = 16
)

type ImageFormat int

const (
	FormatAuto ImageFormat = iota
	FormatRaw
	FormatHex
	FormatGzip
	FormatZstd
)

var imageFormatNames = map[ImageFormat]string{
	FormatAuto: "auto",
	FormatRaw:  "raw",
	FormatHex:  "hex",
	FormatGzip: "gzip",
	FormatZstd: "zstd",
}

func (f ImageFormat) String() string {
	if name, ok := imageFormatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("ImageFormat(%d)", int(f))
}

func ParseImageFormat(s string) (ImageFormat, error) {
	for format, name := range imageFormatNames {
		if strings.EqualFold(s, name) {
			return format, nil
		}
	}
	return FormatAuto, errors.Wrapf(ErrUnknownFormat, "%q", s)
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// A firmware image loaded fully into memory
type Image struct {
	Source      string      // Where the image came from (file path, usually)
	Format      ImageFormat // The format it was decoded from
	BaseAddress uint32      // Address of Data[0] (only meaningful for hex)
	Data        []byte
}

// xxhash64 of the image data as hex
func (img *Image) Digest() string {
	return fmt.Sprintf("%016x", xxhash.Sum64(img.Data))
}

// Guess the format from the file extension alone
func DetectFormat(path string) ImageFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex", ".ihx":
		return FormatHex
	case ".gz", ".gzip":
		return FormatGzip
	case ".zst", ".zstd":
		return FormatZstd
	}
	return FormatRaw
}

// Guess the format from the first few bytes of the stream
func sniffFormat(header []byte) ImageFormat {
	if bytes.HasPrefix(header, zstdMagic) {
		return FormatZstd
	}
	if bytes.HasPrefix(header, gzipMagic) {
		return FormatGzip
	}
	if len(header) > 0 && header[0] == ':' {
		return FormatHex
	}
	return FormatRaw
}

// Load a whole image from disk. FormatAuto goes by file extension.
func LoadImage(path string, format ImageFormat, maxSize int64) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	defer file.Close()
	if format == FormatAuto {
		format = DetectFormat(path)
	}
	img, err := ReadImage(file, format, maxSize)
	if err != nil {
		return nil, errors.Wrapf(err, "read image %s", path)
	}
	img.Source = path
	logger.Debugf("Loaded %s image %s (%s)", img.Format, path, humanize.IBytes(uint64(len(img.Data))))
	return img, nil
}

// Read a whole image from the stream. FormatAuto sniffs the leading bytes.
// The decoded image may be at most maxSize bytes (0 means DefaultMaxImageSize)
func ReadImage(r io.Reader, format ImageFormat, maxSize int64) (*Image, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxImageSize
	}
	if format == FormatAuto {
		br := bufio.NewReader(r)
		header, err := br.Peek(len(zstdMagic))
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "sniff image format")
		}
		format = sniffFormat(header)
		r = br
	}
	img := Image{Format: format}
	var err error
	switch format {
	case FormatRaw:
		img.Data, err = readLimited(r, maxSize)
	case FormatHex:
		img.Data, img.BaseAddress, err = HexToBin(r, maxSize)
	case FormatGzip:
		var gz *gzip.Reader
		gz, err = gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer gz.Close()
		img.Data, err = readLimited(gz, maxSize)
	case FormatZstd:
		var zr *zstd.Decoder
		zr, err = zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "open zstd stream")
		}
		defer zr.Close()
		img.Data, err = readLimited(zr, maxSize)
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "%s", format)
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func readLimited(r io.Reader, maxSize int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "read image data")
	}
	if int64(len(data)) > maxSize {
		return nil, errors.Wrapf(ErrImageTooLarge, "more than %s", humanize.IBytes(uint64(maxSize)))
	}
	return data, nil
}

// Flatten an intel hex file into one contiguous buffer starting at the lowest
// segment address. Gaps between segments are filled with HexPadding. Returns the
// data and the address of its first byte. maxSize of 0 means DefaultMaxImageSize.
func HexToBin(r io.Reader, maxSize int64) ([]byte, uint32, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxImageSize
	}
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, 0, errors.Wrap(err, "parse intel hex")
	}
	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, 0, ErrEmptyHex
	}
	start := segments[0].Address
	end := uint64(0)
	for _, s := range segments {
		if s.Address < start {
			start = s.Address
		}
		if e := uint64(s.Address) + uint64(len(s.Data)); e > end {
			end = e
		}
	}
	size := end - uint64(start)
	if size > uint64(maxSize) {
		return nil, 0, errors.Wrapf(ErrImageTooLarge, "hex spans %s", humanize.IBytes(size))
	}
	logger.Debugf("Hex has %d segments spanning 0x%08X-0x%08X", len(segments), start, end)
	return mem.ToBinary(start, uint32(size), HexPadding), start, nil
}

// Write the data as intel hex, placed at the given address
func BinToHex(data []byte, address uint32, w io.Writer) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(address, data); err != nil {
		return errors.Wrap(err, "add binary to hex")
	}
	return mem.DumpIntelHex(w, HexLineLength)
}
