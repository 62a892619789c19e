package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/objectfs/sdmcfs/internal/config"
	"github.com/objectfs/sdmcfs/internal/devoptab"
	"github.com/objectfs/sdmcfs/internal/fuse"
	"github.com/objectfs/sdmcfs/internal/ipc"
	"github.com/objectfs/sdmcfs/internal/metrics"
	"github.com/objectfs/sdmcfs/internal/sdmc"
	"github.com/objectfs/sdmcfs/internal/storage/hostfs"
	"github.com/objectfs/sdmcfs/internal/storage/s3"
	"github.com/objectfs/sdmcfs/pkg/errors"
	"github.com/objectfs/sdmcfs/pkg/types"
)

// Adapter wires a storage service, the sdmc device and its frontends
// together from one configuration
type Adapter struct {
	config *config.Configuration
	logger *slog.Logger
	args   []string

	mu        sync.Mutex
	collector *metrics.Collector
	service   types.Service
	registry  *devoptab.Registry
	device    *sdmc.Device
	mount     *fuse.MountManager
}

// New creates an adapter for cfg. args are the launch arguments handed to
// the device.
func New(cfg *config.Configuration, args []string, logger *slog.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		config: cfg,
		logger: logger.With("component", "adapter"),
		args:   args,
	}, nil
}

// StartService builds the configured storage service and starts the
// metrics endpoint. It is a no-op when the service already exists.
func (a *Adapter) StartService(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startServiceLocked(ctx)
}

func (a *Adapter) startServiceLocked(ctx context.Context) error {
	if a.service != nil {
		return nil
	}

	collector, err := metrics.NewCollector(&a.config.Metrics, a.logger)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to create metrics collector").
			WithComponent("adapter")
	}
	if err := collector.Start(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to start metrics endpoint").
			WithComponent("adapter").
			WithDetail("address", a.config.Metrics.Address)
	}

	svc, err := NewService(ctx, a.config, a.logger)
	if err != nil {
		collector.Stop(ctx)
		return err
	}

	a.collector = collector
	a.service = metrics.Instrument(svc, collector)
	a.logger.Info("storage service ready", "backend", a.config.Backend.Kind)
	return nil
}

// Start builds the storage service and initialises the device on it
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.device != nil && a.device.Initialised() {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "device is already initialised").
			WithComponent("adapter")
	}
	if err := a.startServiceLocked(ctx); err != nil {
		return err
	}

	archive, _ := a.config.ArchiveID()
	a.registry = devoptab.New()
	a.device = sdmc.New(a.service, sdmc.Config{
		Name:             a.config.Device.Name,
		Archive:          archive,
		DisableSafeWrite: !a.config.Device.SafeWrite,
		Registry:         a.registry,
		Args:             a.args,
		Logger:           a.logger,
	})
	if err := a.device.Init(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeDeviceInit, "failed to initialise device").
			WithComponent("adapter").
			WithOperation("Init")
	}
	return nil
}

// Device returns the initialised device, or nil before Start
func (a *Adapter) Device() *sdmc.Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.device
}

// Service returns the instrumented storage service, or nil before
// StartService
func (a *Adapter) Service() types.Service {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.service
}

// Collector returns the metrics collector, or nil before StartService
func (a *Adapter) Collector() *metrics.Collector {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.collector
}

// Mount serves the device through FUSE at the configured mount point
func (a *Adapter) Mount(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.device == nil || !a.device.Initialised() {
		return errors.NewError(errors.ErrCodeNotInitialized, "device must be started before mounting").
			WithComponent("adapter")
	}
	if a.mount != nil && a.mount.IsMounted() {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "device is already mounted").
			WithComponent("adapter").
			WithPath(a.mount.GetMountPoint())
	}

	fsys := fuse.NewFileSystem(a.device, &fuse.Config{
		ReadOnly:   a.config.Mount.ReadOnly,
		DefaultUID: a.config.Mount.UID,
		DefaultGID: a.config.Mount.GID,
	}, a.logger)
	mountCfg := a.config.Mount.MountConfig
	manager := fuse.NewMountManager(fsys, &mountCfg, a.logger)
	if err := manager.Mount(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeMountFailed, "failed to mount device").
			WithComponent("adapter").
			WithPath(mountCfg.MountPoint)
	}
	a.mount = manager
	return nil
}

// Wait blocks until the FUSE server exits
func (a *Adapter) Wait() {
	a.mu.Lock()
	manager := a.mount
	a.mu.Unlock()
	if manager != nil {
		manager.Wait()
	}
}

// Serve exposes the storage service on the configured Unix socket until
// ctx is cancelled
func (a *Adapter) Serve(ctx context.Context) error {
	if err := a.StartService(ctx); err != nil {
		return err
	}

	socketPath := a.config.Server.SocketPath
	if err := os.MkdirAll(filepath.Dir(socketPath), 0750); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to create socket directory").
			WithComponent("adapter").
			WithPath(socketPath)
	}

	server := ipc.NewServer(socketPath, a.Service(), a.logger)
	return server.Serve(ctx)
}

// Stop unmounts the frontend, releases the device and stops the metrics
// endpoint. Every step runs; the first failure is returned.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if a.mount != nil && a.mount.IsMounted() {
		if err := a.mount.Unmount(); err != nil {
			record(errors.Wrap(err, errors.ErrCodeUnmountFailed, "failed to unmount device").
				WithComponent("adapter").
				WithPath(a.mount.GetMountPoint()))
		}
	}
	a.mount = nil

	if a.device != nil {
		if err := a.device.Exit(ctx); err != nil {
			record(errors.Wrap(err, errors.ErrCodeDeviceExit, "failed to release device").
				WithComponent("adapter").
				WithOperation("Exit"))
		} else {
			a.device = nil
		}
	}

	if a.collector != nil {
		record(a.collector.Stop(ctx))
		a.collector = nil
		a.service = nil
	}

	a.logger.Info("adapter stopped")
	return first
}

// NewService builds the storage service selected by cfg.Backend.Kind
func NewService(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) (types.Service, error) {
	switch cfg.Backend.Kind {
	case config.BackendHost:
		svc, err := hostfs.New(cfg.Backend.HostRoot)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to open host archive").
				WithComponent("adapter").
				WithPath(cfg.Backend.HostRoot)
		}
		return svc, nil
	case config.BackendS3:
		svc, err := s3.New(ctx, &cfg.Backend.S3, logger)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConnectionFailed, "failed to open S3 archive").
				WithComponent("adapter").
				WithDetail("bucket", cfg.Backend.S3.Bucket)
		}
		return svc, nil
	case config.BackendSocket:
		return ipc.NewClient(cfg.Backend.SocketPath), nil
	default:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("unsupported backend %q", cfg.Backend.Kind)).WithComponent("adapter")
	}
}

// ApplyStorageURI points cfg's backend at uri. Accepted forms are
// s3://bucket[/prefix], unix:///path/to/socket, file:///dir and a bare
// host directory path.
func ApplyStorageURI(cfg *config.Configuration, uri string) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to parse storage URI").
			WithComponent("adapter")
	}

	switch parsed.Scheme {
	case "s3":
		if parsed.Host == "" {
			return errors.NewError(errors.ErrCodeInvalidConfig, "S3 URI must include bucket name").
				WithComponent("adapter")
		}
		cfg.Backend.Kind = config.BackendS3
		cfg.Backend.S3.Bucket = parsed.Host
		cfg.Backend.S3.Prefix = strings.Trim(parsed.Path, "/")
	case "unix":
		if parsed.Path == "" {
			return errors.NewError(errors.ErrCodeInvalidConfig, "unix URI must include a socket path").
				WithComponent("adapter")
		}
		cfg.Backend.Kind = config.BackendSocket
		cfg.Backend.SocketPath = parsed.Path
	case "file":
		if parsed.Path == "" {
			return errors.NewError(errors.ErrCodeInvalidConfig, "file URI must include a directory").
				WithComponent("adapter")
		}
		cfg.Backend.Kind = config.BackendHost
		cfg.Backend.HostRoot = parsed.Path
	case "":
		if uri == "" {
			return errors.NewError(errors.ErrCodeInvalidConfig, "storage URI cannot be empty").
				WithComponent("adapter")
		}
		cfg.Backend.Kind = config.BackendHost
		cfg.Backend.HostRoot = uri
	default:
		return errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("unsupported storage scheme: %s (s3, unix and file are supported)", parsed.Scheme)).
			WithComponent("adapter")
	}
	return nil
}
