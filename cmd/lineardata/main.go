package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/randomouscrap98/fwmeta/fwmeta"
)

// Make a fake firmware image full of very obvious data, optionally with a
// metadata block dropped in at some offset. Good for poking at the locator.
func main() {
	if len(os.Args) != 3 && len(os.Args) != 4 {
		fmt.Println("Usage: go run main.go <filename> <length> [block offset]")
		return
	}

	length, err := strconv.Atoi(os.Args[2])
	if err != nil || length < 0 {
		fmt.Println("Error: can't parse length: ", os.Args[2])
		return
	}

	// Constantly increasing values. These can never spell out a marker, since
	// the marker bytes aren't consecutive
	data := make([]byte, length)
	for i := 0; i < length; i++ {
		data[i] = uint8(i & 0xFF)
	}

	if len(os.Args) == 4 {
		offset, err := strconv.Atoi(os.Args[3])
		if err != nil {
			fmt.Println("Error: can't parse offset: ", os.Args[3])
			return
		}
		meta := fwmeta.Metadata{
			EnvName:    "lineardata",
			DeviceType: "TEST",
			Version:    fwmeta.Version{Major: 1},
			BuildDate:  time.Now().Format(fwmeta.BuildDateLayout),
		}
		data, err = fwmeta.Embed(data, offset, &meta, fwmeta.TruncateSilently)
		if err != nil {
			fmt.Println("Error embedding metadata: ", err)
			return
		}
		fmt.Printf("Embedded metadata block at offset %d\n", offset)
	}

	filename := os.Args[1]
	if err := os.WriteFile(filename, data, 0644); err != nil {
		fmt.Println("Error writing file: ", err)
		return
	}

	fmt.Println("Wrote file ", filename)
}
