/*
Package s3 serves the SD card archive from an AWS S3 bucket.

Every file on the card is one object whose key is the file's path below the
configured prefix. Directories are either explicit marker objects ending in
"/" or implied by the keys stored beneath them, the same convention the S3
console uses.

# Layout

	sdmc:/3ds/app/save.bin  ->  s3://<bucket>/<prefix>3ds/app/save.bin
	sdmc:/3ds/              ->  s3://<bucket>/<prefix>3ds/        (marker)

# Reads and Writes

Open files are read with ranged GET requests until the first write. A write
pulls the whole object into memory; the modified object is uploaded on
FlushFile, on a write carrying WriteFlush, and on CloseFile. Uploads go
through the CargoShip transporter when it is enabled and the storage tier
has a matching class, and fall back to PutObject otherwise.

Because written files live in memory, no file may grow past
Config.MaxObjectSize. WriteFile, SetFileSize and CreateFile report
ResultDiskFull for larger sizes.

Renames are copy-then-delete. Renaming a directory copies every object below
its prefix.

# Capacity

S3 has no fixed size. GetArchiveResource reports Config.Capacity split into
Config.ClusterSize clusters, less the clusters occupied by the objects
currently stored under the prefix.

# Usage

	cfg := s3.NewDefaultConfig()
	cfg.Bucket = "my-sdcard"
	cfg.Prefix = "console-01/"

	svc, err := s3.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	dev := sdmc.New(svc, sdmc.Config{Logger: logger})

For S3-compatible stores set Endpoint and ForcePathStyle.
*/
package s3
