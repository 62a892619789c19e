// Package devoptab keeps the process device table: named devices that own
// a path prefix of the form "name:", plus the default device used for paths
// without a prefix.
package devoptab

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// MaxDevices is the number of slots in the device table
const MaxDevices = 16

var (
	// ErrTableFull is returned when every slot is taken
	ErrTableFull = errors.New("device table is full")
	// ErrNoDevice is returned when a name or index does not resolve
	ErrNoDevice = errors.New("no such device")
)

// Device is implemented by anything that can be registered in the table
type Device interface {
	// Name returns the device name without the trailing colon
	Name() string
	// FileStateSize returns the size of the per-file state record
	FileStateSize() int
	// DirStateSize returns the size of the per-directory state record
	DirStateSize() int
}

// Info describes a registered device
type Info struct {
	Index         int    `json:"index"`
	Name          string `json:"name"`
	FileStateSize int    `json:"file_state_size"`
	DirStateSize  int    `json:"dir_state_size"`
	Default       bool   `json:"default"`
}

// Registry is the device table. The zero value is not usable; call New.
type Registry struct {
	mu           sync.RWMutex
	slots        [MaxDevices]Device
	prefixes     *iradix.Tree
	defaultIndex int
	logger       *slog.Logger
}

// New creates an empty device table
func New() *Registry {
	return &Registry{
		prefixes:     iradix.New(),
		defaultIndex: -1,
		logger:       slog.Default().With("component", "devoptab"),
	}
}

var defaultRegistry = New()

// Default returns the process-wide device table
func Default() *Registry {
	return defaultRegistry
}

func prefixKey(name string) []byte {
	return []byte(strings.TrimSuffix(name, ":") + ":")
}

// AddDevice registers dev and returns its slot index. A device registered
// under an existing name replaces the previous entry in place.
func (r *Registry) AddDevice(dev Device) (int, error) {
	if dev == nil || dev.Name() == "" {
		return -1, fmt.Errorf("invalid device: empty name")
	}
	key := prefixKey(dev.Name())

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.prefixes.Get(key); ok {
		index := existing.(int)
		r.slots[index] = dev
		r.logger.Debug("device replaced", "name", dev.Name(), "index", index)
		return index, nil
	}

	for index := range r.slots {
		if r.slots[index] != nil {
			continue
		}
		r.slots[index] = dev
		r.prefixes, _, _ = r.prefixes.Insert(key, index)
		r.logger.Debug("device added", "name", dev.Name(), "index", index)
		return index, nil
	}

	return -1, ErrTableFull
}

// RemoveDevice removes the device registered under name. The name may
// carry the trailing colon.
func (r *Registry) RemoveDevice(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(name, nil)
}

// RemoveEntry removes dev if it still occupies its slot. A device that was
// replaced by another device of the same name is left alone.
func (r *Registry) RemoveEntry(dev Device) error {
	if dev == nil {
		return fmt.Errorf("invalid device: nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(dev.Name(), dev)
}

// remove deletes the entry for name, only when it holds want if want is
// non-nil. Called with r.mu held.
func (r *Registry) remove(name string, want Device) error {
	key := prefixKey(name)
	value, ok := r.prefixes.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoDevice, name)
	}
	index := value.(int)
	if want != nil && r.slots[index] != want {
		return fmt.Errorf("%w: %s was replaced", ErrNoDevice, name)
	}

	r.prefixes, _, _ = r.prefixes.Delete(key)
	r.slots[index] = nil
	if r.defaultIndex == index {
		r.defaultIndex = -1
	}
	r.logger.Debug("device removed", "name", name, "index", index)
	return nil
}

// SetDefaultDevice selects the device used for paths without a prefix
func (r *Registry) SetDefaultDevice(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= MaxDevices || r.slots[index] == nil {
		return fmt.Errorf("%w: index %d", ErrNoDevice, index)
	}
	r.defaultIndex = index
	return nil
}

// FindDevice returns the index of the device owning the prefix of path, or
// -1 when path has no registered "name:" prefix
func (r *Registry) FindDevice(path string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, value, ok := r.prefixes.Root().LongestPrefix([]byte(path))
	if !ok {
		return -1
	}
	return value.(int)
}

// Device returns the device in the given slot
func (r *Registry) Device(index int) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index < 0 || index >= MaxDevices || r.slots[index] == nil {
		return nil, fmt.Errorf("%w: index %d", ErrNoDevice, index)
	}
	return r.slots[index], nil
}

// Resolve returns the device that owns path: the prefixed device when the
// path names one, otherwise the default device
func (r *Registry) Resolve(path string) (Device, error) {
	if index := r.FindDevice(path); index >= 0 {
		return r.Device(index)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultIndex < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, path)
	}
	return r.slots[r.defaultIndex], nil
}

// List returns the registered devices in slot order
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var infos []Info
	for index, dev := range r.slots {
		if dev == nil {
			continue
		}
		infos = append(infos, Info{
			Index:         index,
			Name:          dev.Name(),
			FileStateSize: dev.FileStateSize(),
			DirStateSize:  dev.DirStateSize(),
			Default:       index == r.defaultIndex,
		})
	}
	return infos
}
