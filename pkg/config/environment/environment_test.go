// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package environment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetNodeName(t *testing.T) {
	t.Run("from env", func(t *testing.T) {
		t.Setenv("NODE_NAME", "worker-1.example.com")
		name, err := GetNodeName()
		require.NoError(t, err)
		assert.Equal(t, "worker-1.example.com", name)
	})

	t.Run("invalid env", func(t *testing.T) {
		t.Setenv("NODE_NAME", "Not A Node")
		_, err := GetNodeName()
		assert.Error(t, err)
	})

	t.Run("host proc hostname", func(t *testing.T) {
		procPath := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(procPath, "sys", "kernel"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(procPath, "sys", "kernel", "hostname"), []byte("host-a\n"), 0644))
		t.Setenv("NODE_NAME", "")
		t.Setenv("HOST_PROC", procPath)

		name, err := GetNodeName()
		require.NoError(t, err)
		assert.Equal(t, "host-a", name)
	})

	t.Run("hostname fallback", func(t *testing.T) {
		t.Setenv("NODE_NAME", "")
		t.Setenv("HOST_PROC", t.TempDir())
		hostname, err := os.Hostname()
		require.NoError(t, err)
		name, err := GetNodeName()
		require.NoError(t, err)
		assert.Equal(t, hostname, name)
	})
}

func TestGetClusterName(t *testing.T) {
	t.Setenv("CLUSTER_NAME", "prod-east")
	assert.Equal(t, "prod-east", GetClusterName())

	t.Setenv("CLUSTER_NAME", "bad_name")
	assert.Empty(t, GetClusterName())

	t.Setenv("CLUSTER_NAME", "")
	assert.Empty(t, GetClusterName())
}

func TestGetPodMetadata(t *testing.T) {
	tests := []struct {
		name      string
		podName   string
		namespace string
		uid       string
		expected  *PodMetadata
	}{
		{name: "not in a pod"},
		{
			name:      "full metadata",
			podName:   "agent-x7k2p",
			namespace: "monitoring",
			uid:       "0b7c2f4e",
			expected:  &PodMetadata{Name: "agent-x7k2p", Namespace: "monitoring", UID: "0b7c2f4e"},
		},
		{name: "invalid pod name", podName: "Agent_1"},
		{name: "invalid namespace", podName: "agent", namespace: "a.b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("POD_NAME", tt.podName)
			t.Setenv("POD_NAMESPACE", tt.namespace)
			t.Setenv("POD_UID", tt.uid)
			assert.Equal(t, tt.expected, GetPodMetadata())
		})
	}
}

func TestGetHostPaths(t *testing.T) {
	t.Setenv("HOST_PROC", "")
	t.Setenv("HOST_SYS", "")
	t.Setenv("HOST_ROOT", "")
	assert.Equal(t, HostPaths{Proc: "/proc", Sys: "/sys", Root: "/"}, GetHostPaths())

	t.Setenv("HOST_PROC", "/host/proc/")
	t.Setenv("HOST_SYS", "relative/sys")
	t.Setenv("HOST_ROOT", "/host/root/")
	assert.Equal(t, HostPaths{Proc: "/host/proc", Sys: "/sys", Root: "/host/root"}, GetHostPaths())
}
