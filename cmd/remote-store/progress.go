// Copyright 2022 the go-remote-store Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Show a dot while transfers are running

package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// interval between progress prints
const defaultProgressInterval = 500 * time.Millisecond

// startProgress starts printing progress dots to stderr.
//
// It returns a func which should be called to stop them. Quiet when
// stderr is not wanted as a terminal surface (verbose mode logs
// instead).
func startProgress() func() {
	if viper.GetBool("verbose") {
		return func() {}
	}

	stop := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(defaultProgressInterval)
		defer ticker.Stop()
		printed := false
		for {
			select {
			case <-ticker.C:
				fmt.Fprint(os.Stderr, ".")
				printed = true
			case <-stop:
				if printed {
					fmt.Fprintln(os.Stderr)
				}
				return
			}
		}
	}()

	return func() {
		close(stop)
		wg.Wait()
	}
}
