package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/miretskiy/vnvheap/meta"
)

func main() {
	// Define flags
	path := flag.String("path", "", "Path to heap image file (required)")
	maxObjects := flag.Int("max-objects", 256, "Directory capacity the image was created with")
	flag.Parse()

	// Validate required flags
	if *path == "" {
		fmt.Fprintln(os.Stderr, "Error: --path is required")
		fmt.Fprintln(os.Stderr, "\nUsage: vnvheap-inspect --path=/path/to/image [--max-objects=N]")
		fmt.Fprintln(os.Stderr, "\nThis tool validates and dumps the superblock and object directory")
		fmt.Fprintln(os.Stderr, "of a vnvheap storage image.")
		flag.Usage()
		os.Exit(1)
	}

	img, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read image: %v\n", err)
		os.Exit(1)
	}

	sb, err := meta.DecodeSuperblock(img)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Superblock invalid: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Superblock:\n")
	fmt.Printf("  version:         %d\n", sb.Version)
	fmt.Printf("  config digest:   %08x\n", sb.ConfigDigest)
	fmt.Printf("  allocator state: %d bytes\n", len(sb.AllocState))

	dirOff := meta.SuperblockSize(len(sb.AllocState))
	if dirOff+meta.DirectorySize(*maxObjects) > len(img) {
		fmt.Fprintf(os.Stderr, "Image truncated before directory (try a different --max-objects)\n")
		os.Exit(1)
	}
	entries, err := meta.DecodeDirectory(img[dirOff:], *maxObjects)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Directory invalid: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nDirectory: %d object(s)\n", len(entries))
	for _, e := range entries {
		fmt.Printf("  id=%-10d size=%-8d tag=%04x\n", e.ID, e.Size, e.TypeTag)
	}
}
