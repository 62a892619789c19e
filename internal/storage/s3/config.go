package s3

import (
	"fmt"
	"time"
)

// Config configures the S3 storage service
type Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// StorageTier is the storage class of uploaded objects
	StorageTier string `yaml:"storage_tier"`

	// EnableCargoShipOptimization routes uploads through the CargoShip
	// transporter, falling back to PutObject on failure
	EnableCargoShipOptimization bool `yaml:"enable_cargoship_optimization"`
	Concurrency                 int  `yaml:"concurrency"`

	// Capacity is the archive size reported to callers, in bytes
	Capacity uint64 `yaml:"capacity"`
	// ClusterSize is the allocation unit reported to callers
	ClusterSize uint32 `yaml:"cluster_size"`
	// ReadOnly rejects every mutating call
	ReadOnly bool `yaml:"read_only"`
	// MaxObjectSize bounds the size of a single file. Open files are held
	// in memory while written, so larger sizes are reported as a full disk.
	// Zero selects DefaultMaxObjectSize.
	MaxObjectSize uint64 `yaml:"max_object_size"`
}

// DefaultMaxObjectSize matches the largest file a FAT32 card can hold
const DefaultMaxObjectSize = 4<<30 - 1

// objectSizeLimit returns MaxObjectSize or its default
func (c *Config) objectSizeLimit() uint64 {
	if c.MaxObjectSize == 0 {
		return DefaultMaxObjectSize
	}
	return c.MaxObjectSize
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Region:                      "us-east-1",
		MaxRetries:                  3,
		RequestTimeout:              30 * time.Second,
		StorageTier:                 TierStandard,
		EnableCargoShipOptimization: true,
		Concurrency:                 8,
		Capacity:                    32 << 30,
		ClusterSize:                 32 * 1024,
		MaxObjectSize:               DefaultMaxObjectSize,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket name cannot be empty")
	}
	if c.StorageTier != "" && !ValidTier(c.StorageTier) {
		return fmt.Errorf("unsupported storage tier %q", c.StorageTier)
	}
	if c.ClusterSize == 0 {
		return fmt.Errorf("cluster size must be positive")
	}
	if c.Capacity < uint64(c.ClusterSize) {
		return fmt.Errorf("capacity %d is smaller than one cluster", c.Capacity)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}
