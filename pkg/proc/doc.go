// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package proc provides utilities for reading system information from the /proc filesystem.
//
// Values here are read once and reused throughout the program lifecycle. All
// functions accept an optional /proc path for testing or containerized
// environments.
//
// Example usage:
//
//	// Get USER_HZ for converting kernel ticks to time
//	userHZ, err := proc.UserHZ()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Use custom /proc path (useful in containers)
//	userHZ, err = proc.UserHZ("/host/proc")
package proc
