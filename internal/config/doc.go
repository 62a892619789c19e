/*
Package config loads and validates sdmcfs configuration.

Values are layered with increasing precedence: compiled-in defaults from
NewDefault, a YAML file read by LoadFromFile, SDMCFS_* environment variables
applied by LoadFromEnv, and finally command-line flags set by the caller.

# Sections

	global:
	  log_level: INFO          # DEBUG, INFO, WARN, ERROR
	  log_format: text         # text or json
	  log_file: ""             # stderr when empty
	metrics:
	  enabled: false
	  address: 127.0.0.1:9464
	device:
	  name: sdmc
	  safe_write: true         # stage writes through a bounce buffer
	  archive: sdmc            # sdmc or sdmc_write_only
	backend:
	  kind: host               # host, s3 or socket
	  host_root: ./sdcard
	  socket_path: /run/sdmcfs/storage.sock
	  s3:
	    bucket: ""
	    prefix: ""
	    region: us-east-1
	    storage_tier: STANDARD
	    capacity: 34359738368
	mount:
	  mount_point: /mnt/sdmc
	  read_only: false
	  attr_timeout: 1s
	server:
	  socket_path: /run/sdmcfs/storage.sock

Unknown keys in a configuration file are rejected.

# Environment

LoadFromEnv recognises, among others, SDMCFS_LOG_LEVEL, SDMCFS_BACKEND,
SDMCFS_HOST_ROOT, SDMCFS_SOCKET_PATH, SDMCFS_S3_BUCKET, SDMCFS_S3_CAPACITY
(human sizes such as "32G"), SDMCFS_MOUNT_POINT and SDMCFS_READ_ONLY. A
value that does not parse is reported as an INVALID_CONFIG error naming the
variable.

# Usage

	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, closer, err := cfg.SetupLogging()

Errors returned by this package are *errors.SDMCError values from
pkg/errors; validation failures carry the offending key in
Details["field"].
*/
package config
