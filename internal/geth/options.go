package geth

import (
	"fmt"
	"strings"
)

// Option keys with special meaning to the builder.
const (
	KeyDataDir   = "datadir"
	KeySymlink   = "symlink"
	KeyAccount   = "account"
	KeyNetworkID = "networkid"
	KeyRPC       = "rpc"
	KeyRPCPort   = "rpcport"
	KeyRPCAPI    = "rpcapi"
	KeyWS        = "ws"
	KeyWSPort    = "wsport"
	KeyWSAPI     = "wsapi"
	KeyUnlock    = "unlock"
	KeyPassword  = "password"
)

// Options is an insertion-ordered set of daemon options.
// Each key becomes a --key flag, in the order it was first set.
type Options struct {
	keys   []string
	values map[string]any
}

// NewOptions creates an empty option set.
func NewOptions() *Options {
	return &Options{values: make(map[string]any)}
}

// Set stores value under key. A key that already exists keeps its position.
func (o *Options) Set(key string, value any) *Options {
	if o.values == nil {
		o.values = make(map[string]any)
	}
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
	return o
}

// Get returns the value stored under key.
func (o *Options) Get(key string) (any, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.values[key]
	return v, ok
}

// Has reports whether key is set.
func (o *Options) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Delete removes key.
func (o *Options) Delete(key string) {
	if o == nil {
		return
	}
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the option names in insertion order.
func (o *Options) Keys() []string {
	if o == nil {
		return nil
	}
	return append([]string(nil), o.keys...)
}

// Len returns the number of options.
func (o *Options) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Clone returns a copy that can be modified without affecting o.
// List values are shared.
func (o *Options) Clone() *Options {
	c := NewOptions()
	if o == nil {
		return c
	}
	for _, k := range o.keys {
		c.Set(k, o.values[k])
	}
	return c
}

// String renders the options as key=value pairs for logging.
func (o *Options) String() string {
	if o == nil {
		return "{}"
	}
	parts := make([]string, 0, len(o.keys))
	for _, k := range o.keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, o.values[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
