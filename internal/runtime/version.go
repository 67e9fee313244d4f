// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package runtime

import (
	"strconv"
	"strings"
)

var (
	// These variables are supplied at build time with -ldflags -X
	buildMajor string
	buildMinor string
	buildPatch string
	buildRev   string
)

// Version returns the semantic version (major.minor.patch). Components that
// were not set at build time read as 0.
func Version() string {
	parts := []string{buildMajor, buildMinor, buildPatch}
	for i, p := range parts {
		if _, err := strconv.ParseUint(p, 10, 32); err != nil {
			parts[i] = "0"
		}
	}
	return strings.Join(parts, ".")
}

// Rev returns the revision id of the build.
func Rev() string {
	return buildRev
}
