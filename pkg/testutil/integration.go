// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package testutil provides utilities for testing, with a focus on integration test helpers.
package testutil

import (
	"os"
	"runtime"
	"testing"
)

// RequireLinux skips the test if not running on Linux.
func RequireLinux(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("Test requires Linux")
	}
}

// RequireLinuxFilesystem verifies that essential Linux filesystems are available.
// This checks for /proc and /sys which every counter source reads.
func RequireLinuxFilesystem(t *testing.T) {
	t.Helper()
	RequireLinux(t)

	if _, err := os.Stat("/proc/self"); err != nil {
		t.Skipf("Test requires /proc filesystem: %v", err)
	}

	if _, err := os.Stat("/sys/block"); err != nil {
		t.Skipf("Test requires /sys filesystem: %v", err)
	}
}

// RequireReadable skips the test unless every path can be opened. Some
// counter files are hidden by kernel config (schedstat) or by missing
// privileges (io of other users' threads).
func RequireReadable(t *testing.T, paths ...string) {
	t.Helper()
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			t.Skipf("Test requires readable %s: %v", path, err)
		}
		f.Close()
	}
}
