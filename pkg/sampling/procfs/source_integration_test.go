// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build integration

package procfs_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/counterrates/pkg/sampling"
	"github.com/antimetal/counterrates/pkg/sampling/procfs"
	"github.com/antimetal/counterrates/pkg/testutil"
)

func TestSource_RealHost(t *testing.T) {
	testutil.RequireLinuxFilesystem(t)
	testutil.RequireReadable(t, "/proc/diskstats", "/proc/net/dev")

	source, err := procfs.NewSource(testr.New(t), procfs.DefaultConfig())
	require.NoError(t, err)

	ctx := context.Background()

	network := source.Observe(ctx, sampling.DomainNetwork)
	require.Contains(t, network, sampling.KeyDevice)
	assert.Contains(t, network[sampling.KeyDevice], sampling.CounterDevInPackets)

	cpu := source.Observe(ctx, sampling.DomainCPU)
	require.NotEmpty(t, cpu, "the test process has at least one thread")
	self := procfs.ThreadKey(os.Getpid(), os.Getpid())
	assert.Contains(t, cpu, self)

	// diskstats may legitimately be empty in minimal containers.
	_ = source.Observe(ctx, sampling.DomainDisk)
}

func TestSampler_RealHost(t *testing.T) {
	testutil.RequireLinuxFilesystem(t)
	testutil.RequireReadable(t, fmt.Sprintf("/proc/%d/task/%d/stat", os.Getpid(), os.Getpid()))

	source, err := procfs.NewSource(testr.New(t), procfs.DefaultConfig())
	require.NoError(t, err)

	s, err := sampling.NewSampler(source,
		sampling.WithLogger(testr.New(t)),
		sampling.WithConfig(sampling.Config{
			EnabledDomains: map[sampling.Domain]bool{
				sampling.DomainCPU:     true,
				sampling.DomainNetwork: true,
			},
		}))
	require.NoError(t, err)

	ctx := context.Background()
	s.Tick(ctx)
	time.Sleep(50 * time.Millisecond)
	results := s.Tick(ctx)
	require.Len(t, results, 2)

	latest, ok := s.GetLatest(sampling.DomainCPU)
	require.True(t, ok)
	assert.Greater(t, latest.EndMillis, latest.StartMillis)
}
