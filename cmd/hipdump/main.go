// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hipdump ingests a profile directory produced by an
// hip-instrumented program into a SQLite database for offline
// analysis, the way cmd/dump turns a perf.data file into readable
// output.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/aclements/hip/ingest"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("hipdump: ")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: hipdump <profile_dir> <output_db>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(1)
	}

	profileDir, dbPath := flag.Arg(0), flag.Arg(1)
	if err := ingest.Ingest(profileDir, dbPath); err != nil {
		log.Fatal(err)
	}
}
