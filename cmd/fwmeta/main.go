package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap/zapcore"

	"github.com/randomouscrap98/fwmeta/fwmeta"
)

const (
	AppVersion = "0.3.0"

	ExitNotFound = 2
)

// Encode flags shared between the commands that build a block
type MetadataFlags struct {
	Env       string `required:"" help:"Environment / build configuration name (max 31 bytes)"`
	Device    string `required:"" help:"Device type (max 15 bytes)"`
	FwVersion string `name:"fw-version" default:"0.0.0" help:"Firmware version as MAJOR.MINOR.PATCH"`
	BuildDate string `help:"Build date text (default: now, as DD-MM-YYYY HH:MM:SS)"`
	Strict    bool   `help:"Fail instead of truncating fields that don't fit"`
}

// **********************************
// *        SEARCH COMMANDS         *
// **********************************

type FindCmd struct {
	Images      []string `arg:"" type:"path" help:"Firmware images to search (bin, hex, gz, zst)"`
	Format      string   `enum:"json,toml,text" default:"json" short:"f" help:"Report format"`
	ImageFormat string   `enum:"auto,raw,hex,gzip,zstd" default:"auto" help:"How to read the images"`
	TextMode    string   `help:"Text decoding: ignore, replace or strict (default from config)"`
	Parallel    int      `help:"Scan with this many workers (default from config)"`
	All         bool     `help:"Also list every candidate offset"`
	Require     bool     `help:"Exit with code 2 if any image has no metadata"`
}

func (c *FindCmd) Run(cfg *fwmeta.Config) error {
	format, err := fwmeta.ParseImageFormat(c.ImageFormat)
	fatalIfErr("find", "parse image format", err)
	mode := textModeOrConfig(c.TextMode, cfg)
	opts := cfg.ParallelOptions()
	if c.Parallel > 0 {
		opts.Workers = c.Parallel
	}
	reports := make([]*fwmeta.Report, 0, len(c.Images))
	missing := 0
	for _, path := range c.Images {
		img, err := fwmeta.LoadImage(path, format, cfg.Scan.MaxImageSize)
		fatalIfErr(path, "load image", err)
		located, found, err := fwmeta.FindParallel(context.Background(), img.Data, mode, opts)
		fatalIfErr(path, "decode metadata", err)
		report := fwmeta.NewReport(img, located)
		if found {
			fwmeta.Logger().Infof("Found metadata in %s at offset 0x%08X", path, located.Offset)
		} else {
			fwmeta.Logger().Infof("No metadata in %s", path)
			missing++
		}
		if c.All {
			report.Candidates = fwmeta.LocateAll(img.Data)
		}
		reports = append(reports, report)
	}
	switch c.Format {
	case "toml":
		err = fwmeta.WriteReportsTOML(reports, os.Stdout)
	case "text":
		err = fwmeta.WriteReportsText(reports, os.Stdout)
	default:
		err = fwmeta.WriteReportsJSON(reports, os.Stdout)
	}
	fatalIfErr("find", "write report", err)
	if c.Require && missing > 0 {
		os.Exit(ExitNotFound)
	}
	return nil
}

type InfoCmd struct {
	Image     string `arg:"" type:"existingfile" help:"Firmware image"`
	BuildDate bool   `help:"Include the build date line"`
}

func (c *InfoCmd) Run(cfg *fwmeta.Config) error {
	img, err := fwmeta.LoadImage(c.Image, fwmeta.FormatAuto, cfg.Scan.MaxImageSize)
	fatalIfErr(c.Image, "load image", err)
	located, _, err := fwmeta.Find(img.Data, cfg.TextMode())
	fatalIfErr(c.Image, "decode metadata", err)
	var m *fwmeta.Metadata
	if located != nil {
		m = located.Metadata
	}
	fmt.Println(fwmeta.InfoString(m, c.BuildDate))
	return nil
}

// Decode a bare block (or a block at a known offset) without searching
type DecodeCmd struct {
	Infile   string `arg:"" type:"existingfile" help:"File holding the block"`
	Offset   int    `default:"0" help:"Byte offset of the block within the file"`
	TextMode string `help:"Text decoding: ignore, replace or strict (default from config)"`
}

func (c *DecodeCmd) Run(cfg *fwmeta.Config) error {
	raw, err := os.ReadFile(c.Infile)
	fatalIfErr(c.Infile, "read file", err)
	if c.Offset < 0 || c.Offset > len(raw) {
		fwmeta.Logger().Fatalf("Offset %d outside of %d byte file", c.Offset, len(raw))
	}
	m, err := fwmeta.Decode(raw[c.Offset:], textModeOrConfig(c.TextMode, cfg))
	fatalIfErr(c.Infile, "decode block", err)
	img := fwmeta.Image{Source: c.Infile, Format: fwmeta.FormatRaw, Data: raw}
	PrintJson(fwmeta.NewReport(&img, &fwmeta.Located{Offset: c.Offset, Metadata: m}))
	return nil
}

// **********************************
// *        BUILD COMMANDS          *
// **********************************

type EncodeCmd struct {
	MetadataFlags `embed:""`
	Outfile       string `type:"path" short:"o" help:"Where to write the block"`
	Hex           bool   `help:"Write intel hex instead of raw binary"`
	Address       uint32 `default:"0" help:"Load address of the block (hex output only)"`
}

func (c *EncodeCmd) Run(cfg *fwmeta.Config) error {
	ext := "bin"
	if c.Hex {
		ext = "hex"
	}
	if c.Outfile == "" {
		c.Outfile = fmt.Sprintf("fwmeta_%s.%s", FileSafeDateTime(), ext)
	}
	m := c.metadata()
	policy := c.policy(cfg)
	if err := m.Validate(); err != nil && policy == fwmeta.TruncateSilently {
		fwmeta.Logger().Warnf("Field will be truncated: %s", err)
	}
	block, err := fwmeta.Encode(m, policy)
	fatalIfErr("encode", "encode metadata", err)
	file := forceCreate(c.Outfile)
	if c.Hex {
		err = fwmeta.BinToHex(block, c.Address, file)
	} else {
		_, err = file.Write(block)
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	fatalIfErr(c.Outfile, "write block", err)
	fwmeta.Logger().Infof("Wrote %s block to %s", ext, c.Outfile)
	result := make(map[string]interface{})
	result["Outfile"] = c.Outfile
	result["Length"] = len(block)
	result["Metadata"] = m
	PrintJson(result)
	return nil
}

// Copy an image with a block dropped in at a fixed offset. Meant for making
// test images; the input file is never touched.
type EmbedCmd struct {
	MetadataFlags `embed:""`
	Image         string `arg:"" type:"existingfile" help:"Image to copy"`
	Offset        int    `required:"" help:"Byte offset to write the block at"`
	Outfile       string `type:"path" short:"o" help:"Where to write the new image"`
}

func (c *EmbedCmd) Run(cfg *fwmeta.Config) error {
	if c.Outfile == "" {
		c.Outfile = fmt.Sprintf("embedded_%s.bin", FileSafeDateTime())
	}
	img, err := fwmeta.LoadImage(c.Image, fwmeta.FormatAuto, cfg.Scan.MaxImageSize)
	fatalIfErr(c.Image, "load image", err)
	if img.Format != fwmeta.FormatRaw {
		fwmeta.Logger().Infof("Input is %s; output will be a flat raw image", img.Format)
	}
	for _, existing := range fwmeta.LocateAll(img.Data) {
		if existing < c.Offset {
			fwmeta.Logger().Warnf("Image already has a block at 0x%08X; it will shadow the new one", existing)
		} else if existing < c.Offset+fwmeta.BlockSize {
			fwmeta.Logger().Warnf("Existing block at 0x%08X overlaps the new one and will be damaged", existing)
		}
	}
	out, err := fwmeta.Embed(img.Data, c.Offset, c.metadata(), c.policy(cfg))
	fatalIfErr(c.Image, "embed metadata", err)
	err = os.WriteFile(c.Outfile, out, 0644)
	fatalIfErr(c.Outfile, "write image", err)
	result := make(map[string]interface{})
	result["Infile"] = c.Image
	result["Outfile"] = c.Outfile
	result["Offset"] = c.Offset
	result["Length"] = len(out)
	PrintJson(result)
	return nil
}

// **********************************
// *       SCRIPTING COMMANDS       *
// **********************************

type ScriptCmd struct {
	Script    string   `arg:"" type:"existingfile" help:"Lua script to run"`
	Arguments []string `arg:"" optional:"" help:"Arguments passed to the script"`
	Dir       string   `type:"path" short:"d" help:"Directory script file paths are relative to"`
}

func (c *ScriptCmd) Run(cfg *fwmeta.Config) error {
	script, err := os.ReadFile(c.Script)
	fatalIfErr(c.Script, "read script", err)
	state := fwmeta.ScriptState{
		FileDirectory: c.Dir,
		Arguments:     c.Arguments,
		MaxImageSize:  cfg.Scan.MaxImageSize,
		TextMode:      cfg.TextMode(),
	}
	logs, err := state.Run(string(script))
	fmt.Print(logs)
	fatalIfErr(c.Script, "run script", err)
	return nil
}

// **********************************
// *    ALL TOGETHER COMMANDS       *
// **********************************

var cli struct {
	Find   FindCmd   `cmd:"" help:"Search firmware images for embedded metadata and report it"`
	Info   InfoCmd   `cmd:"" help:"Print a one-line firmware description"`
	Decode DecodeCmd `cmd:"" help:"Decode a block at a known offset without searching"`
	Encode EncodeCmd `cmd:"" help:"Build a 128 byte metadata block"`
	Embed  EmbedCmd  `cmd:"" help:"Copy an image with a metadata block written into it"`
	Script ScriptCmd `cmd:"" help:"Run a lua script with the metadata functions available"`

	Config  string           `type:"path" help:"TOML config file (default: fwmeta.toml, if present)"`
	Verbose bool             `short:"v" help:"Log debug information"`
	Version kong.VersionFlag `help:"Show version information"`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("fwmeta"),
		kong.ShortUsageOnError(),
		kong.Description("Find, decode and build firmware metadata blocks"),
		kong.Vars{
			"version": AppVersion,
		},
	)
	cfg, err := fwmeta.LoadConfig(cli.Config)
	fatalIfErr("config", "load config", err)
	level, err := fwmeta.ParseLogLevel(cfg.Log.Level)
	fatalIfErr("config", "parse log level", err)
	if cli.Verbose {
		level = zapcore.DebugLevel
	}
	fwmeta.SetLogger(fwmeta.NewLogger("fwmeta", level, os.Stderr))
	err = ctx.Run(cfg)
	ctx.FatalIfErrorf(err)
}
