// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ringbuffer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/counterrates/pkg/ringbuffer"
)

func TestNew(t *testing.T) {
	_, err := ringbuffer.New[int](0)
	assert.Error(t, err)

	_, err = ringbuffer.New[int](-1)
	assert.Error(t, err)

	rb, err := ringbuffer.New[int](3)
	require.NoError(t, err)
	assert.Equal(t, 0, rb.Len())
	assert.Equal(t, 3, rb.Cap())
	assert.Empty(t, rb.GetAll())
}

func TestRingBuffer_Overwrite(t *testing.T) {
	rb, err := ringbuffer.New[int](3)
	require.NoError(t, err)

	rb.Push(1)
	rb.Push(2)
	assert.Equal(t, []int{1, 2}, rb.GetAll())

	rb.Push(3)
	rb.Push(4)
	rb.Push(5)
	assert.Equal(t, 3, rb.Len())
	assert.Equal(t, []int{3, 4, 5}, rb.GetAll())
}

func TestRingBuffer_GetAllReturnsCopy(t *testing.T) {
	rb, err := ringbuffer.New[string](2)
	require.NoError(t, err)

	rb.Push("a")
	all := rb.GetAll()
	all[0] = "z"
	assert.Equal(t, []string{"a"}, rb.GetAll())
}

func TestRingBuffer_Clear(t *testing.T) {
	rb, err := ringbuffer.New[int](2)
	require.NoError(t, err)

	rb.Push(1)
	rb.Push(2)
	rb.Push(3)
	rb.Clear()
	assert.Equal(t, 0, rb.Len())
	assert.Equal(t, 2, rb.Cap())

	rb.Push(7)
	assert.Equal(t, []int{7}, rb.GetAll())
}
