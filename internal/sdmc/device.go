package sdmc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/objectfs/sdmcfs/internal/devoptab"
	"github.com/objectfs/sdmcfs/pkg/types"
)

// DefaultName is the device name used when Config.Name is empty
const DefaultName = "sdmc"

// Config configures a Device
type Config struct {
	// Name is the device name registered in the device table
	Name string
	// Archive selects the archive opened on Init
	Archive types.ArchiveID
	// DisableSafeWrite selects direct writes instead of staged writes
	DisableSafeWrite bool
	// Registry receives the device on Init; defaults to devoptab.Default()
	Registry *devoptab.Registry
	// Args are the launch arguments. Args[0] seeds the working directory
	// when it names a path on this device.
	Args []string
	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// Device exposes the SD card archive of a storage service through
// POSIX-style operations.
//
// The working directory and the write mode are process-wide settings of the
// device. Chdir and SetWriteSafe take effect for every call that starts
// after they return; callers that need a consistent view across several
// calls must serialize them externally.
type Device struct {
	svc      types.Service
	name     string
	archive  types.ArchiveID
	args     []string
	registry *devoptab.Registry
	logger   *slog.Logger

	mu          sync.RWMutex
	initialised bool
	handle      types.Archive
	cwd         string

	writeSafe atomic.Bool

	files *handleTable[*openFile]
	dirs  *handleTable[*openDir]
}

// New creates a device backed by svc. The device is unusable until Init.
func New(svc types.Service, cfg Config) *Device {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Archive == 0 {
		cfg.Archive = types.ArchiveSDMC
	}
	if cfg.Registry == nil {
		cfg.Registry = devoptab.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Device{
		svc:      svc,
		name:     strings.TrimSuffix(cfg.Name, ":"),
		archive:  cfg.Archive,
		args:     cfg.Args,
		registry: cfg.Registry,
		logger:   cfg.Logger.With("component", "sdmc", "device", cfg.Name),
		cwd:      "/",
		files:    newHandleTable[*openFile](),
		dirs:     newHandleTable[*openDir](),
	}
	d.writeSafe.Store(!cfg.DisableSafeWrite)
	return d
}

// Name returns the device name
func (d *Device) Name() string {
	return d.name
}

// FileStateSize returns the size of the per-file state record
func (d *Device) FileStateSize() int {
	return int(unsafe.Sizeof(openFile{}))
}

// DirStateSize returns the size of the per-directory state record
func (d *Device) DirStateSize() int {
	return int(unsafe.Sizeof(openDir{}))
}

// Init opens the archive, registers the device as the default device and
// seeds the working directory from the launch path. Calling Init on an
// initialised device is a no-op.
func (d *Device) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialised {
		return nil
	}

	archive, err := d.svc.OpenArchive(ctx, d.archive, types.EmptyPath())
	if err != nil {
		return fmt.Errorf("opening archive %d: %w", d.archive, err)
	}
	d.handle = archive
	d.initialised = true

	if exempter, ok := d.svc.(types.SessionExempter); ok {
		if err := exempter.ExemptFromSession(ctx, archive); err != nil {
			d.logger.Warn("archive session exemption failed", "error", err)
		}
	}

	index, err := d.registry.AddDevice(d)
	if err != nil {
		d.logger.Warn("device registration failed", "error", err)
		return nil
	}
	if err := d.registry.SetDefaultDevice(index); err != nil {
		d.logger.Warn("selecting default device failed", "error", err)
	}

	if len(d.args) > 0 && d.registry.FindDevice(d.args[0]) == index {
		d.seedWorkingDirectory(ctx, d.args[0])
	}

	d.logger.Info("device initialised", "archive", uint64(archive), "index", index, "cwd", d.cwd)
	return nil
}

// seedWorkingDirectory changes into the directory containing the launch
// path. Failures leave the working directory untouched. Called with d.mu
// held.
func (d *Device) seedWorkingDirectory(ctx context.Context, launchPath string) {
	if len(launchPath) > PathMax || !utf8.ValidString(launchPath) {
		return
	}
	slash := strings.LastIndexByte(launchPath, '/')
	if slash < 0 {
		return
	}

	fixed, err := canonicalize(launchPath[:slash], d.cwd)
	if err != nil {
		d.logger.Debug("launch directory rejected", "path", launchPath, "error", err)
		return
	}
	if err := d.enterDirectory(ctx, d.handle, fixed); err != nil {
		d.logger.Debug("launch directory not entered", "path", fixed, "error", err)
		return
	}
	d.cwd = fixed
}

// Exit closes the archive and removes the device from the device table.
// The device stays initialised if the archive cannot be closed.
func (d *Device) Exit(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialised {
		return nil
	}

	if err := d.svc.CloseArchive(ctx, d.handle); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}

	if exempter, ok := d.svc.(types.SessionExempter); ok {
		if err := exempter.UnexemptFromSession(ctx, d.handle); err != nil {
			d.logger.Debug("archive session unexemption failed", "error", err)
		}
	}
	if err := d.registry.RemoveEntry(d); err != nil {
		d.logger.Debug("device removal failed", "error", err)
	}

	d.initialised = false
	d.handle = 0
	d.logger.Info("device exited")
	return nil
}

// Initialised reports whether the archive is open
func (d *Device) Initialised() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.initialised
}

// SetWriteSafe selects between staged writes (true, the default) and
// direct writes. Open files pick up the change on their next write.
func (d *Device) SetWriteSafe(enable bool) {
	d.writeSafe.Store(enable)
}

// WriteSafe reports whether staged writes are enabled
func (d *Device) WriteSafe() bool {
	return d.writeSafe.Load()
}

// Getwd returns the current working directory
func (d *Device) Getwd() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cwd
}

// archiveHandle returns the open archive or ENODEV before Init
func (d *Device) archiveHandle() (types.Archive, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.initialised {
		return 0, unix.ENODEV
	}
	return d.handle, nil
}
