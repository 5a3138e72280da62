package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"snapearth-map-go/internal/palette"
	"snapearth-map-go/internal/raster"
)

func main() {
	var (
		path        = flag.String("path", "", "Path to a TIFF raster or a directory of them")
		limit       = flag.Int("limit", 5, "Max number of rasters to summarize")
		paletteFile = flag.String("palette", "", "YAML color table overriding the built-in one")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("missing -path")
	}

	table := palette.Default()
	if *paletteFile != "" {
		loaded, err := palette.LoadFile(*paletteFile)
		if err != nil {
			log.Fatalf("load palette: %v", err)
		}
		table = loaded
	}

	files, err := listFiles(*path)
	if err != nil {
		log.Fatalf("list files: %v", err)
	}

	var decoded, failed int
	for _, file := range files {
		if *limit > 0 && decoded >= *limit {
			break
		}
		data, err := os.ReadFile(file)
		if err != nil {
			log.Printf("read %s: %v", file, err)
			failed++
			continue
		}
		grid, err := raster.Decode(data)
		if err != nil {
			log.Printf("decode %s: %v", file, err)
			failed++
			continue
		}
		decoded++
		fmt.Printf("raster: %s\n", file)
		fmt.Printf("  shape: %dx%d depth=%d-bit\n", grid.Height, grid.Width, grid.Depth)
		for _, code := range grid.Distinct() {
			fmt.Printf("  %s\n", describeCode(table, code))
		}
	}

	fmt.Printf("summary: decoded=%d failed=%d\n", decoded, failed)
}

func describeCode(table *palette.ColorTable, code uint16) string {
	rgb, ok := table.Lookup(code)
	if !ok {
		return fmt.Sprintf("code %d: not in color table", code)
	}
	for _, e := range table.Entries() {
		if e.Code == code {
			return fmt.Sprintf("code %d: %s rgb(%d,%d,%d)", code, e.Name, rgb[0], rgb[1], rgb[2])
		}
	}
	return fmt.Sprintf("code %d", code)
}

func listFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".tif", ".tiff":
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
