// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt
package diagnostics

import "flag"

var bindAddress string

func init() {
	flag.StringVar(&bindAddress, "diagnostics-bind-address", ":8090",
		"The address the diagnostics endpoint binds to. Set to \"0\" to disable it")
}

// Enabled reports whether the diagnostics server should run.
func Enabled() bool { return bindAddress != "0" && bindAddress != "" }

// BindAddress returns the address selected on the command line.
func BindAddress() string { return bindAddress }
