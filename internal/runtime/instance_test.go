// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package runtime

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetInstance(t *testing.T) {
	inst := GetInstance()
	require.NotNil(t, inst)

	assert.NotEqual(t, uuid.Nil, inst.ID)
	assert.Equal(t, uuid.Version(7), inst.ID.Version())
	assert.ElementsMatch(t,
		[]string{"cpu", "disk", "faults", "io", "mounts", "network", "sched"},
		inst.Domains)
}

func TestCreateInstanceIsUnique(t *testing.T) {
	assert.NotEqual(t, createInstance().ID, createInstance().ID)
}

func TestVersion(t *testing.T) {
	saved := []string{buildMajor, buildMinor, buildPatch}
	t.Cleanup(func() {
		buildMajor, buildMinor, buildPatch = saved[0], saved[1], saved[2]
	})

	buildMajor, buildMinor, buildPatch = "", "", ""
	assert.Equal(t, "0.0.0", Version())

	buildMajor, buildMinor, buildPatch = "1", "4", "x"
	assert.Equal(t, "1.4.0", Version())

	buildMajor, buildMinor, buildPatch = "2", "0", "13"
	assert.Equal(t, "2.0.13", Version())
}
