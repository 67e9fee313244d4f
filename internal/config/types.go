// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

// Status represents the status of a configuration operation.
type Status uint8

const (
	// StatusOK indicates the configuration was accepted.
	StatusOK Status = 1 << iota
	// StatusInvalid indicates the configuration was rejected.
	StatusInvalid
)

// Object is a parsed configuration document body.
type Object interface {
	Kind() string
	DeepCopy() Object
}

// Instance of a config object that includes its status.
type Instance struct {
	Kind    string
	Name    string
	Version string
	Object  Object
	Status  Status
	// Expired is set when the document backing the config was removed.
	Expired bool
}

// Copy returns a deep copy of the Instance.
func (i *Instance) Copy() Instance {
	out := *i
	if i.Object != nil {
		out.Object = i.Object.DeepCopy()
	}
	return out
}

// Filters includes optional parameters to filter configs.
type Filters struct {
	// Kinds filters for config kinds to watch for.
	// If empty, then defaults for all kinds.
	Kinds []string
	// Bitmask of config statuses to watch for e.g. StatusOK | StatusInvalid
	// If unset, defaults to StatusOK.
	Status Status
}

// Options when retrieving configs.
type Options struct {
	Filters Filters
}

// Loader retrieves configs.
type Loader interface {
	// ListConfigs retrieves available configs with optional filters, keyed
	// by kind.
	ListConfigs(opts Options) (map[string][]Instance, error)
	// GetConfig gets a config object identified as name of the given kind.
	// It returns an error if no config is found.
	//
	// If a new version of a config is invalid, the most recent valid
	// version is returned.
	GetConfig(kind, name string) (Instance, error)
	// Watch returns a channel that receives configuration objects as they
	// change, starting with the current ones. Each invocation returns a
	// separate channel.
	//
	// Delivery is at least once; receivers must tolerate duplicates.
	//
	// If the Loader is also a LoaderCloser, the channel is closed by
	// Close(), after which Watch returns a nil channel.
	Watch(opts Options) <-chan Instance
}

// LoaderCloser groups the Loader methods with Close.
type LoaderCloser interface {
	Loader

	// Close stops the loader and cleans up resources. It is idempotent.
	Close() error
}
