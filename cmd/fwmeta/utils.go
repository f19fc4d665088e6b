package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/randomouscrap98/fwmeta/fwmeta"
)

// Most commands need this, so... yeah
func PrintJson(obj interface{}) {
	rawjson, err := json.MarshalIndent(obj, "", "  ")
	fatalIfErr("output", "serialize json", err)
	fmt.Println(string(rawjson))
}

// Get a filesafe datetime, condensed (local time, I hope)
func FileSafeDateTime() string {
	return time.Now().Format("20060102-150405")
}

// Quick way to fail on error, since most commands are "doing" something on
// behalf of something else.
func fatalIfErr(subject string, doing string, err error) {
	if err != nil {
		fwmeta.Logger().Fatalf("%s - Couldn't %s: %s", subject, doing, err)
	}
}

func forceCreate(fp string) *os.File {
	f, err := os.Create(fp)
	fatalIfErr(fp, "create write file", err)
	return f
}

// Flag value wins over config value when set
func textModeOrConfig(flag string, cfg *fwmeta.Config) fwmeta.TextMode {
	if flag == "" {
		return cfg.TextMode()
	}
	mode, err := fwmeta.ParseTextMode(flag)
	fatalIfErr("text-mode", "parse text mode", err)
	return mode
}

// Build the metadata from the shared encode flags
func (f *MetadataFlags) metadata() *fwmeta.Metadata {
	version, err := fwmeta.ParseVersion(f.FwVersion)
	fatalIfErr(f.FwVersion, "parse version", err)
	buildDate := f.BuildDate
	if buildDate == "" {
		buildDate = time.Now().Format(fwmeta.BuildDateLayout)
	}
	return &fwmeta.Metadata{
		EnvName:    f.Env,
		DeviceType: f.Device,
		Version:    version,
		BuildDate:  buildDate,
	}
}

func (f *MetadataFlags) policy(cfg *fwmeta.Config) fwmeta.TruncatePolicy {
	if f.Strict {
		return fwmeta.TruncateStrict
	}
	return cfg.TruncatePolicy()
}
