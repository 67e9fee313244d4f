// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package diagnostics

import (
	"strings"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/counterrates/pkg/sampling"
)

func TestCollector(t *testing.T) {
	c := NewCollector(newFakeReader(), testr.New(t))

	expected := `
# HELP counterrates_disk_utilization_ratio Fraction of the window the device was busy
# TYPE counterrates_disk_utilization_ratio gauge
counterrates_disk_utilization_ratio{device="sda"} 0.5
# HELP counterrates_thread_cpu_percent CPU time as a percentage of the window
# TYPE counterrates_thread_cpu_percent gauge
counterrates_thread_cpu_percent{thread="42/43"} 12.5
# HELP counterrates_window_seconds Length of the window the latest result covers
# TYPE counterrates_window_seconds gauge
counterrates_window_seconds{domain="cpu"} 10
counterrates_window_seconds{domain="disk"} 10
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"counterrates_disk_utilization_ratio",
		"counterrates_thread_cpu_percent",
		"counterrates_window_seconds")
	require.NoError(t, err)

	// 2 windows, 3 disk gauges and 1 cpu gauge.
	assert.Equal(t, 6, testutil.CollectAndCount(c))
}

func TestCollector_AllDomains(t *testing.T) {
	reader := &fakeReader{latest: map[sampling.Domain]sampling.Result{
		sampling.DomainMounts: {
			Domain:    sampling.DomainMounts,
			EndMillis: 1000,
			Data: map[string]sampling.MountMetrics{
				"/dev/sda1 on /": {Partition: "/dev/sda1", MountPoint: "/", TotalSpace: 400, FreeSpace: 160, UsableSpace: 120},
			},
		},
	}}
	c := NewCollector(reader, testr.New(t))

	expected := `
# HELP counterrates_filesystem_bytes Filesystem space by state
# TYPE counterrates_filesystem_bytes gauge
counterrates_filesystem_bytes{device="/dev/sda1",mountpoint="/",state="free"} 160
counterrates_filesystem_bytes{device="/dev/sda1",mountpoint="/",state="total"} 400
counterrates_filesystem_bytes{device="/dev/sda1",mountpoint="/",state="usable"} 120
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "counterrates_filesystem_bytes"))

	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, registry.Register(c))
	_, err := registry.Gather()
	assert.NoError(t, err)
}
