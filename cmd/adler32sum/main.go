// Command adler32sum prints the dual adler32/sha512 checksum the Bundler
// records for a bundle archive, so an operator can spot-check a file on
// disk against what the LTA DB has on record without writing any code.
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package main

import (
	"fmt"
	"os"

	"github.com/WIPACrepo/lta-sub001/cmn/cos"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: adler32sum <file> [file...]")
		os.Exit(2)
	}
	status := 0
	for _, path := range os.Args[1:] {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			status = 1
			continue
		}
		sum, err := cos.StreamChecksums(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			status = 1
			continue
		}
		fmt.Printf("%s  adler32=%s sha512=%s\n", path, sum.Adler32, sum.SHA512)
	}
	os.Exit(status)
}
