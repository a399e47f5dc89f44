// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command hipdemo drives the hip engine through a short burst of
// multi-goroutine allocation churn and writes a profile directory,
// exercising the engine the way an embedding program would.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"

	"github.com/aclements/hip"
	"github.com/aclements/hip/arena"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("hipdemo: ")

	var (
		flagDir        = flag.String("dir", ".", "parent `directory` for the profile directory")
		flagGoroutines = flag.Int("goroutines", 4, "number of concurrent allocating goroutines")
		flagOps        = flag.Int("ops", 1000, "alloc/free operations per goroutine")
		flagSample     = flag.Float64("sample", 1.0, "alloc sample rate in [0, 1]")
	)
	flag.Parse()
	if flag.NArg() > 0 {
		flag.Usage()
		os.Exit(1)
	}

	alloc := arena.New(256)

	profileDir, err := hip.Enable(hip.Config{
		MaxStackDepth:          32,
		MaxTrackers:            *flagGoroutines + 1,
		TrackerEventBufferSize: 64,
		SampleRate:             *flagSample,
		ProfileDir:             *flagDir,
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("writing profile to", profileDir)

	allocator := hip.Interpose(alloc)

	var wg sync.WaitGroup
	for g := 0; g < *flagGoroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer hip.ReleaseCurrentGoroutine()
			churn(allocator, *flagOps)
		}()
	}
	wg.Wait()

	if err := hip.Disable(); err != nil {
		log.Fatal(err)
	}
}

// churn performs n alloc/free pairs against allocator: allocate a
// small, randomly-sized block and immediately free it, to exercise
// address reuse.
func churn(allocator hip.Allocator, n int) {
	for i := 0; i < n; i++ {
		size := uintptr(1 + rand.Intn(255))
		addr, err := allocator.Alloc(size)
		if err != nil {
			log.Fatal(err)
		}
		if err := allocator.Free(addr); err != nil {
			log.Fatal(err)
		}
	}
}
