package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/randomouscrap98/fwmeta/fwmeta"
)

// Dump every block that passes the marker check into its own file, including
// the ones Locate would never return because an earlier one shadows them.
func main() {
	if len(os.Args) != 2 {
		fmt.Println("Usage: go run main.go <filename>")
		return
	}

	filename := os.Args[1]
	img, err := fwmeta.LoadImage(filename, fwmeta.FormatAuto, 0)
	if err != nil {
		fmt.Println("Error loading image:", err)
		return
	}

	outputDir := "found_blocks"
	err = os.Mkdir(outputDir, 0755)
	if err != nil && !os.IsExist(err) {
		fmt.Println("Error creating output directory:", err)
		return
	}

	offsets := fwmeta.LocateAll(img.Data)
	for i, offset := range offsets {
		blockFilename := filepath.Join(outputDir, fmt.Sprintf("block_%d_%08X.bin", i, offset))
		err = os.WriteFile(blockFilename, img.Data[offset:offset+fwmeta.BlockSize], 0644)
		if err != nil {
			fmt.Println("Error writing block file:", err)
			return
		}
		if m, err := fwmeta.Decode(img.Data[offset:], fwmeta.TextReplace); err == nil {
			fmt.Printf("0x%08X: %s\n", offset, m)
		}
	}

	fmt.Printf("Found and saved %d blocks to directory '%s'\n", len(offsets), outputDir)
}
