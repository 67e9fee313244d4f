// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package runtime describes the running agent instance.
package runtime

import (
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/antimetal/counterrates/pkg/config/environment"
	"github.com/antimetal/counterrates/pkg/sampling"
)

// Instance identifies one agent process. The ID is regenerated on every
// start and is exported as service.instance.id.
type Instance struct {
	ID            uuid.UUID `json:"id"`
	Version       string    `json:"version"`
	Revision      string    `json:"revision,omitempty"`
	KernelRelease string    `json:"kernel_release,omitempty"`
	Domains       []string  `json:"domains"`

	Pod *environment.PodMetadata `json:"pod,omitempty"`
}

var instance *Instance

func init() {
	instance = createInstance()
}

// GetInstance returns the Instance of the running process.
func GetInstance() *Instance {
	return instance
}

func createInstance() *Instance {
	id, err := uuid.NewV7()
	if err != nil {
		// something would be terribly wrong if this happened
		panic(err)
	}

	inst := &Instance{
		ID:       id,
		Version:  Version(),
		Revision: Rev(),
		Domains:  supportedDomains(),
		Pod:      environment.GetPodMetadata(),
	}

	// Uname only fails off Linux, where the release is simply left empty.
	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		inst.KernelRelease = unix.ByteSliceToString(uts.Release[:])
	}
	return inst
}

func supportedDomains() []string {
	registered := sampling.RegisteredDomains()
	out := make([]string, 0, len(registered))
	for _, d := range registered {
		out = append(out, string(d))
	}
	return out
}
