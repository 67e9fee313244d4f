// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package environment provides utilities for extracting configuration from environment variables
package environment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
)

// GetNodeName returns the node name from NODE_NAME environment variable,
// falling back to the host's hostname if not set. An explicitly set name
// must be a valid DNS-1123 subdomain.
func GetNodeName() (string, error) {
	nodeName := os.Getenv("NODE_NAME")
	if nodeName == "" {
		if name, err := hostHostname(GetHostPaths().Proc); err == nil && name != "" {
			return name, nil
		}
		return os.Hostname()
	}
	if errs := validation.IsDNS1123Subdomain(nodeName); len(errs) > 0 {
		return "", fmt.Errorf("invalid NODE_NAME %q: %s", nodeName, strings.Join(errs, "; "))
	}
	return nodeName, nil
}

// hostHostname returns the hostname reported by the kernel. Inside a
// container with the host's /proc mounted this is the host machine's name.
func hostHostname(procPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(procPath, "sys", "kernel", "hostname"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// GetClusterName returns the cluster name from CLUSTER_NAME environment variable.
// Returns empty string if not set or if it is not a valid DNS-1123 subdomain.
func GetClusterName() string {
	clusterName := os.Getenv("CLUSTER_NAME")
	if errs := validation.IsDNS1123Subdomain(clusterName); len(errs) > 0 {
		return ""
	}
	return clusterName
}

// PodMetadata contains Kubernetes pod metadata from downward API
type PodMetadata struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
	UID       string `json:"uid,omitempty"`
}

// GetPodMetadata returns pod metadata from environment variables set by Kubernetes downward API.
// Returns nil if POD_NAME is not set or if metadata fails validation.
func GetPodMetadata() *PodMetadata {
	podName := os.Getenv("POD_NAME")
	if podName == "" {
		return nil
	}

	if errs := validation.IsDNS1123Subdomain(podName); len(errs) > 0 {
		return nil
	}

	namespace := os.Getenv("POD_NAMESPACE")
	if namespace != "" {
		if errs := validation.IsDNS1123Label(namespace); len(errs) > 0 {
			return nil
		}
	}

	return &PodMetadata{
		Name:      podName,
		Namespace: namespace,
		UID:       os.Getenv("POD_UID"),
	}
}

// HostPaths contains the host filesystem paths for containerized environments
type HostPaths struct {
	Proc string // Path to /proc (e.g., /host/proc in containers)
	Sys  string // Path to /sys (e.g., /host/sys in containers)
	Root string // Path to the host root filesystem (e.g., /host/root in containers)
}

// GetHostPaths returns the host filesystem paths from environment variables,
// with defaults if not set. Relative overrides are ignored.
func GetHostPaths() HostPaths {
	return HostPaths{
		Proc: absPathEnv("HOST_PROC", "/proc"),
		Sys:  absPathEnv("HOST_SYS", "/sys"),
		Root: absPathEnv("HOST_ROOT", "/"),
	}
}

func absPathEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" && filepath.IsAbs(v) {
		return filepath.Clean(v)
	}
	return fallback
}
