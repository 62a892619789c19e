/*
Package types defines the contract between the sdmcfs device shim and the
storage service that owns the SD card archive.

The shim never touches the medium itself. Every file and directory operation
is forwarded to a Service as a request over an archive handle and an encoded
path, and the service answers with a Result code:

	┌─────────────────────────────────────────────┐
	│        POSIX-style callers / FUSE / io/fs   │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Device shim (internal/sdmc)       │
	│  path canonicalizer · encoder · fd tables   │
	└─────────────────────────────────────────────┘
	                      │  types.Service
	┌──────────────┬──────┴───────┬──────────────┐
	│ host archive │  S3 archive  │ socket client│
	└──────────────┴──────────────┴──────────────┘

# Results

A Result is a 32-bit status word. Zero means success; any other value is a
failure whose fields (level, summary, module, description) can be decoded for
diagnostics. Result implements error so services can return it directly and
callers can recover it with errors.As.

# Paths

Paths cross the boundary as a typed byte payload. The shim always sends
PathUTF16 payloads: little-endian UTF-16 including the NUL terminator.
*/
package types
