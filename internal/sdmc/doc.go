/*
Package sdmc implements the SD card device: POSIX-style file, directory and
filesystem operations translated into storage service requests.

# Paths

Every path argument is canonicalized before use. An optional "sdmc:" style
device prefix is stripped, relative paths are resolved against the device's
working directory, and the result is bounded by PathMax bytes. The canonical
path is then encoded as NUL-terminated UTF-16LE for the service. Encoding
failures abort the operation before any request is sent:

	"sdmc:/3ds/app.3dsx"  ->  "/3ds/app.3dsx"
	"data/save.bin"       ->  "/3ds/data/save.bin"   (cwd "/3ds")
	"sdmc:/a:b"           ->  EINVAL
	"/bad\xff"            ->  EILSEQ

# Errors

Operations return syscall.Errno values. Storage service results are mapped
through a sorted table; results without a mapping are returned unchanged as
an opaque errno. The io/fs view returned by Device.FS wraps the same values
in *fs.PathError and *os.LinkError.

# Descriptors

Open and DirOpen hand out small integer descriptors that index per-device
tables. The local offset of an open file is authoritative; the service only
ever receives absolute offsets. Directory entries are fetched from the
service in batches of 32 and DirNext reports the end of a directory as
io.EOF.
*/
package sdmc
