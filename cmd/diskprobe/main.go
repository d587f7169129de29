// Command diskprobe is an operational sanity tool for a warehouse or
// workbox mount: it walks the tree counting files and bytes, and reports
// disk I/O counters for the underlying device, so an operator can spot a
// stalled or nearly-full mount before a worker replica quarantines a whole
// batch against it.
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/karrick/godirwalk"
	"github.com/lufia/iostat"
)

func main() {
	root := flag.String("path", "", "mount or directory to probe")
	device := flag.String("device", "", "block device name to report I/O counters for (optional)")
	flag.Parse()

	if *root == "" {
		fmt.Fprintln(os.Stderr, "usage: diskprobe -path <dir> [-device <name>]")
		os.Exit(2)
	}

	var fileCount int
	var totalBytes int64
	err := godirwalk.Walk(*root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			info, err := os.Lstat(path)
			if err != nil {
				return nil
			}
			fileCount++
			totalBytes += info.Size()
			return nil
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "walk %s: %v\n", *root, err)
		os.Exit(1)
	}
	fmt.Printf("%s: %d files, %d bytes\n", *root, fileCount, totalBytes)

	if *device != "" {
		stats, err := iostat.ReadDiskStats()
		if err != nil {
			fmt.Fprintf(os.Stderr, "read disk stats: %v\n", err)
			return
		}
		for _, s := range stats {
			if s.Name != *device {
				continue
			}
			fmt.Printf("%s: reads=%d readBytes=%d writes=%d writeBytes=%d\n",
				s.Name, s.ReadCount, s.ReadBytes, s.WriteCount, s.WriteBytes)
		}
	}
}
