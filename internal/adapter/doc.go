/*
Package adapter assembles sdmcfs from a configuration.

The Adapter owns the lifecycle of every runtime component:

	            config.Configuration
	                     │
	   ┌─────────────────┼───────────────────┐
	   │            NewService               │
	   │   host dir │ S3 bucket │ Unix socket│
	   └─────────────────┬───────────────────┘
	                     │ types.Service
	            metrics.Instrument
	                     │
	        ┌────────────┴────────────┐
	        │                         │
	   sdmc.Device               ipc.Server
	   (Start / Stop)            (Serve)
	        │
	   fuse.MountManager
	   (Mount / Wait)

StartService builds the storage service selected by backend.kind and starts
the metrics endpoint when metrics are enabled. Start additionally creates
the sdmc device, registers it in a private device table and opens the SD
card archive. Mount exposes the started device through FUSE, and Serve
exposes the storage service itself on server.socket_path so that another
process can use it through the socket backend.

Stop unwinds in reverse order: unmount, device exit, metrics shutdown. It
keeps going after a failure and returns the first error.

# Storage URIs

Command-line tools name a backend with a storage URI which ApplyStorageURI
folds into the configuration:

	s3://bucket/prefix           S3 archive
	unix:///run/sdmcfs/fs.sock   storage service served by "sdmcfs serve"
	file:///srv/sdcard           host directory
	./sdcard                     host directory

# Errors

Every failure is an *errors.SDMCError from pkg/errors. Device start failures
carry DEVICE_INIT and keep the storage service result of the failed
OpenArchive call in the cause chain.
*/
package adapter
