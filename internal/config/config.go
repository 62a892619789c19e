package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/sdmcfs/internal/fuse"
	"github.com/objectfs/sdmcfs/internal/metrics"
	"github.com/objectfs/sdmcfs/internal/storage/s3"
	"github.com/objectfs/sdmcfs/pkg/errors"
	"github.com/objectfs/sdmcfs/pkg/types"
	"github.com/objectfs/sdmcfs/pkg/utils"
)

// Backend kinds
const (
	BackendHost   = "host"
	BackendS3     = "s3"
	BackendSocket = "socket"
)

// Archive names accepted in device.archive
const (
	ArchiveSDMC          = "sdmc"
	ArchiveSDMCWriteOnly = "sdmc_write_only"
)

const envPrefix = "SDMCFS_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global  GlobalConfig   `yaml:"global"`
	Metrics metrics.Config `yaml:"metrics"`
	Device  DeviceConfig   `yaml:"device"`
	Backend BackendConfig  `yaml:"backend"`
	Mount   MountConfig    `yaml:"mount"`
	Server  ServerConfig   `yaml:"server"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// DeviceConfig configures the SD card device
type DeviceConfig struct {
	Name      string `yaml:"name"`
	SafeWrite bool   `yaml:"safe_write"`
	Archive   string `yaml:"archive"`
}

// BackendConfig selects the storage service behind the device
type BackendConfig struct {
	Kind       string    `yaml:"kind"`
	HostRoot   string    `yaml:"host_root"`
	S3         s3.Config `yaml:"s3"`
	SocketPath string    `yaml:"socket_path"`
}

// MountConfig configures the FUSE frontend
type MountConfig struct {
	fuse.MountConfig `yaml:",inline"`

	ReadOnly bool   `yaml:"read_only"`
	UID      uint32 `yaml:"uid"`
	GID      uint32 `yaml:"gid"`
}

// ServerConfig configures the socket server of the serve command
type ServerConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: utils.LogFormatText,
		},
		Metrics: *metrics.NewDefaultConfig(),
		Device: DeviceConfig{
			Name:      "sdmc",
			SafeWrite: true,
			Archive:   ArchiveSDMC,
		},
		Backend: BackendConfig{
			Kind:       BackendHost,
			HostRoot:   "./sdcard",
			S3:         *s3.NewDefaultConfig(),
			SocketPath: "/run/sdmcfs/storage.sock",
		},
		Mount: MountConfig{
			MountConfig: *fuse.NewDefaultMountConfig(""),
			UID:         uint32(os.Getuid()),
			GID:         uint32(os.Getgid()),
		},
		Server: ServerConfig{
			SocketPath: "/run/sdmcfs/storage.sock",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").
			WithPath(filename)
	}

	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").
			WithPath(filename)
	}

	return nil
}

// LoadFromEnv loads configuration from SDMCFS_* environment variables
func (c *Configuration) LoadFromEnv() error {
	env := envReader{}

	// Global settings
	env.str("LOG_LEVEL", &c.Global.LogLevel)
	env.str("LOG_FORMAT", &c.Global.LogFormat)
	env.str("LOG_FILE", &c.Global.LogFile)

	// Metrics
	env.boolean("METRICS_ENABLED", &c.Metrics.Enabled)
	env.str("METRICS_ADDRESS", &c.Metrics.Address)

	// Device
	env.str("DEVICE_NAME", &c.Device.Name)
	env.boolean("SAFE_WRITE", &c.Device.SafeWrite)
	env.str("ARCHIVE", &c.Device.Archive)

	// Backend
	env.str("BACKEND", &c.Backend.Kind)
	env.str("HOST_ROOT", &c.Backend.HostRoot)
	env.str("SOCKET_PATH", &c.Backend.SocketPath)
	env.str("S3_BUCKET", &c.Backend.S3.Bucket)
	env.str("S3_PREFIX", &c.Backend.S3.Prefix)
	env.str("S3_REGION", &c.Backend.S3.Region)
	env.str("S3_ENDPOINT", &c.Backend.S3.Endpoint)
	env.boolean("S3_FORCE_PATH_STYLE", &c.Backend.S3.ForcePathStyle)
	env.str("S3_STORAGE_TIER", &c.Backend.S3.StorageTier)
	env.boolean("S3_CARGOSHIP", &c.Backend.S3.EnableCargoShipOptimization)
	env.boolean("S3_READ_ONLY", &c.Backend.S3.ReadOnly)
	env.duration("S3_REQUEST_TIMEOUT", &c.Backend.S3.RequestTimeout)
	env.bytes("S3_CAPACITY", &c.Backend.S3.Capacity)
	env.bytes("S3_MAX_OBJECT_SIZE", &c.Backend.S3.MaxObjectSize)

	// Mount
	env.str("MOUNT_POINT", &c.Mount.MountPoint)
	env.boolean("ALLOW_OTHER", &c.Mount.AllowOther)
	env.boolean("READ_ONLY", &c.Mount.ReadOnly)
	env.duration("ATTR_TIMEOUT", &c.Mount.AttrTimeout)
	env.duration("ENTRY_TIMEOUT", &c.Mount.EntryTimeout)

	// Server
	env.str("SERVER_SOCKET", &c.Server.SocketPath)

	return env.err
}

// envReader applies environment overrides and keeps the first parse error
type envReader struct {
	err error
}

func (r *envReader) lookup(key string) (string, bool) {
	val := os.Getenv(envPrefix + key)
	return val, val != ""
}

func (r *envReader) fail(key, val string, cause error) {
	if r.err == nil {
		r.err = errors.Wrap(cause, errors.ErrCodeInvalidConfig,
			fmt.Sprintf("invalid value %q for %s%s", val, envPrefix, key)).
			WithComponent("config")
	}
}

func (r *envReader) str(key string, dst *string) {
	if val, ok := r.lookup(key); ok {
		*dst = val
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	if val, ok := r.lookup(key); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			r.fail(key, val, err)
			return
		}
		*dst = b
	}
}

func (r *envReader) duration(key string, dst *time.Duration) {
	if val, ok := r.lookup(key); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			r.fail(key, val, err)
			return
		}
		*dst = d
	}
}

func (r *envReader) bytes(key string, dst *uint64) {
	if val, ok := r.lookup(key); ok {
		n, err := utils.ParseBytes(val)
		if err != nil {
			r.fail(key, val, err)
			return
		}
		*dst = n
	}
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to marshal config").WithComponent("config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to create config directory").
			WithComponent("config").
			WithPath(filename)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to write config file").
			WithComponent("config").
			WithPath(filename)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("global.log_level", err.Error())
	}
	switch strings.ToLower(c.Global.LogFormat) {
	case utils.LogFormatText, utils.LogFormatJSON:
	default:
		return invalid("global.log_format", fmt.Sprintf("unsupported format %q (must be text or json)", c.Global.LogFormat))
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return invalid("metrics.address", "address is required when metrics are enabled")
	}

	if c.Device.Name == "" || strings.ContainsAny(c.Device.Name, ":/") {
		return invalid("device.name", fmt.Sprintf("invalid device name %q", c.Device.Name))
	}
	if _, err := c.ArchiveID(); err != nil {
		return err
	}

	switch c.Backend.Kind {
	case BackendHost:
		if c.Backend.HostRoot == "" {
			return invalid("backend.host_root", "host root is required for the host backend")
		}
	case BackendS3:
		if err := c.Backend.S3.Validate(); err != nil {
			return invalid("backend.s3", err.Error())
		}
	case BackendSocket:
		if c.Backend.SocketPath == "" {
			return invalid("backend.socket_path", "socket path is required for the socket backend")
		}
	default:
		return invalid("backend.kind", fmt.Sprintf("unsupported backend %q (must be one of: %s, %s, %s)",
			c.Backend.Kind, BackendHost, BackendS3, BackendSocket))
	}

	if c.Mount.MaxWrite < 0 {
		return invalid("mount.max_write", "max_write cannot be negative")
	}
	if c.Mount.AttrTimeout < 0 || c.Mount.EntryTimeout < 0 {
		return invalid("mount", "kernel cache timeouts cannot be negative")
	}

	return nil
}

// ArchiveID returns the archive selected by device.archive
func (c *Configuration) ArchiveID() (types.ArchiveID, error) {
	switch c.Device.Archive {
	case ArchiveSDMC, "":
		return types.ArchiveSDMC, nil
	case ArchiveSDMCWriteOnly:
		return types.ArchiveSDMCWriteOnly, nil
	default:
		return 0, invalid("device.archive", fmt.Sprintf("unsupported archive %q (must be %s or %s)",
			c.Device.Archive, ArchiveSDMC, ArchiveSDMCWriteOnly))
	}
}

// SetupLogging builds the process logger from the global section and
// installs it as the slog default
func (c *Configuration) SetupLogging() (*slog.Logger, io.Closer, error) {
	logger, closer, err := utils.SetupLogging(c.Global.LogLevel, c.Global.LogFormat, c.Global.LogFile)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to set up logging").
			WithComponent("config")
	}
	return logger, closer, nil
}

func invalid(field, message string) error {
	return errors.NewError(errors.ErrCodeConfigValidation, message).
		WithComponent("config").
		WithDetail("field", field)
}
