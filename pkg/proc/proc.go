// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package proc

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strconv"
)

const (
	defaultProcPath = "/proc"

	// DefaultUserHZ is the tick rate the kernel reports on every mainstream
	// architecture.
	DefaultUserHZ int64 = 100

	// atClkTck is the auxiliary vector entry carrying USER_HZ.
	atClkTck = 17
)

var errMultiplePaths = errors.New("at most one proc path may be given")

func procPath(paths []string) (string, error) {
	switch len(paths) {
	case 0:
		return defaultProcPath, nil
	case 1:
		return paths[0], nil
	default:
		return "", errMultiplePaths
	}
}

// UserHZ returns the number of clock ticks per second used by per-task CPU
// time counters in /proc. It is read from the process auxiliary vector and
// falls back to DefaultUserHZ when that is unreadable.
func UserHZ(procPaths ...string) (int64, error) {
	root, err := procPath(procPaths)
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(filepath.Join(root, "self", "auxv"))
	if err != nil {
		return DefaultUserHZ, nil
	}
	if hz, ok := parseAuxv(data, atClkTck); ok && hz > 0 {
		return int64(hz), nil
	}
	return DefaultUserHZ, nil
}

// parseAuxv scans (key, value) pairs of native word size for key.
func parseAuxv(data []byte, key uint64) (uint64, bool) {
	word := strconv.IntSize / 8
	for off := 0; off+2*word <= len(data); off += 2 * word {
		var k, v uint64
		if word == 8 {
			k = binary.NativeEndian.Uint64(data[off:])
			v = binary.NativeEndian.Uint64(data[off+word:])
		} else {
			k = uint64(binary.NativeEndian.Uint32(data[off:]))
			v = uint64(binary.NativeEndian.Uint32(data[off+word:]))
		}
		if k == 0 {
			break
		}
		if k == key {
			return v, true
		}
	}
	return 0, false
}
