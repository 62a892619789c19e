package s3

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/objectfs/sdmcfs/internal/wire"
	"github.com/objectfs/sdmcfs/pkg/types"
)

// millisTo2000 is 2000-01-01T00:00:00Z in milliseconds since the Unix epoch
const millisTo2000 = 946684800000

const sectorSize = 512

// object is an open file. Reads go straight to the bucket until the first
// write loads the whole object; dirty contents are uploaded on flush and
// close.
type object struct {
	mu     sync.Mutex
	key    string
	flags  types.OpenFlags
	size   uint64
	data   []byte
	loaded bool
	dirty  bool
}

// checkSize rejects file sizes beyond the configured object limit
func (s *Service) checkSize(n uint64) error {
	if n > s.cfg.objectSizeLimit() {
		return types.ResultDiskFull
	}
	return nil
}

// resize truncates or zero-extends the loaded contents
func (o *object) resize(n uint64) {
	old := len(o.data)
	if n > uint64(cap(o.data)) {
		o.data = slices.Grow(o.data, int(n)-old)
	}
	o.data = o.data[:n]
	if n > uint64(old) {
		clear(o.data[old:])
	}
}

type listing struct {
	entries []types.DirectoryEntry
	pos     int
}

// Service serves the SD card archive from an S3 bucket. Files are objects
// keyed by their path below the configured prefix; directories are
// "name/" marker objects or any common prefix.
type Service struct {
	api    API
	upload UploadFunc
	cfg    *Config
	logger *slog.Logger

	mu         sync.Mutex
	nextHandle uint64
	archives   map[types.Archive]struct{}
	files      map[types.Handle]*object
	dirs       map[types.Handle]*listing
}

var _ types.Service = (*Service)(nil)

// New connects to the configured bucket
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid S3 configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, upload, err := NewClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s := NewWithAPI(client, upload, cfg, logger)
	if err := s.HealthCheck(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithAPI creates a service over an existing client. upload may be nil.
func NewWithAPI(api API, upload UploadFunc, cfg *Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	c := *cfg
	if c.Prefix != "" && !strings.HasSuffix(c.Prefix, "/") {
		c.Prefix += "/"
	}
	c.Prefix = strings.TrimPrefix(c.Prefix, "/")

	return &Service{
		api:      api,
		upload:   upload,
		cfg:      &c,
		logger:   logger.With("component", "s3", "bucket", c.Bucket),
		archives: make(map[types.Archive]struct{}),
		files:    make(map[types.Handle]*object),
		dirs:     make(map[types.Handle]*listing),
	}
}

// HealthCheck verifies the bucket is reachable
func (s *Service) HealthCheck(ctx context.Context) error {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)})
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}

func (s *Service) allocate() types.Handle {
	s.nextHandle++
	return types.Handle(s.nextHandle)
}

// resolve decodes path into a clean absolute name
func (s *Service) resolve(archive types.Archive, p types.Path) (string, error) {
	s.mu.Lock()
	_, ok := s.archives[archive]
	s.mu.Unlock()
	if !ok {
		return "", types.ResultInvalidHandle
	}

	var name string
	switch p.Type {
	case types.PathUTF16:
		decoded, err := wire.StringFromBytes(p.Data)
		if err != nil {
			return "", types.ResultInvalidPath
		}
		name = decoded
	case types.PathASCII:
		name = strings.TrimRight(string(p.Data), "\x00")
	default:
		return "", types.ResultInvalidPath
	}

	if !strings.HasPrefix(name, "/") {
		return "", types.ResultInvalidPath
	}
	return path.Clean(name), nil
}

func (s *Service) objectKey(name string) string {
	return s.cfg.Prefix + strings.TrimPrefix(name, "/")
}

func (s *Service) dirPrefix(name string) string {
	if name == "/" {
		return s.cfg.Prefix
	}
	return s.objectKey(name) + "/"
}

func (s *Service) writable(flags types.OpenFlags) error {
	if s.cfg.ReadOnly {
		return types.ResultAccessDenied
	}
	if flags != 0 && flags&types.OpenWrite == 0 {
		return types.ResultAccessDenied
	}
	return nil
}

func (s *Service) translateError(op, key string, err error) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err):
		return types.ResultNotFound
	case isErrorType[*s3types.NoSuchBucket](err):
		return fmt.Errorf("bucket not found: %s", s.cfg.Bucket)
	default:
		s.logger.Warn("S3 request failed", "operation", op, "key", key, "error", err)
		return fmt.Errorf("%s failed for %s: %w", op, key, err)
	}
}

func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// headFile returns the size and modification time of a file object
func (s *Service) headFile(ctx context.Context, key string) (uint64, time.Time, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, time.Time{}, s.translateError("HeadObject", key, err)
	}
	return uint64(aws.ToInt64(out.ContentLength)), aws.ToTime(out.LastModified), nil
}

// isDir reports whether anything lives below name
func (s *Service) isDir(ctx context.Context, name string) (bool, error) {
	if name == "/" {
		return true, nil
	}
	prefix := s.dirPrefix(name)
	out, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.cfg.Bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, s.translateError("ListObjectsV2", prefix, err)
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

// kind reports whether name is a file, a directory or neither
func (s *Service) kind(ctx context.Context, name string) (file, dir bool, err error) {
	if name == "/" {
		return false, true, nil
	}
	_, _, err = s.headFile(ctx, s.objectKey(name))
	switch {
	case err == nil:
		return true, false, nil
	case !errors.Is(err, types.ResultNotFound):
		return false, false, err
	}
	dir, err = s.isDir(ctx, name)
	return false, dir, err
}

func (s *Service) requireParent(ctx context.Context, name string) error {
	dir, err := s.isDir(ctx, path.Dir(name))
	if err != nil {
		return err
	}
	if !dir {
		return types.ResultPathNotFound
	}
	return nil
}

// put uploads data to key, through the transporter when one is configured
func (s *Service) put(ctx context.Context, key string, data []byte) error {
	if s.upload != nil {
		if archive, ok := archiveFor(key, data, s.cfg.StorageTier); ok {
			err := s.upload(ctx, archive)
			if err == nil {
				return nil
			}
			s.logger.Warn("CargoShip upload failed, falling back to PutObject", "key", key, "error", err)
		}
	}

	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		StorageClass:  storageClass(s.cfg.StorageTier),
	})
	if err != nil {
		return s.translateError("PutObject", key, err)
	}
	return nil
}

func (s *Service) get(ctx context.Context, key string, rangeHeader *string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Range:  rangeHeader,
	})
	if err != nil {
		return nil, s.translateError("GetObject", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

func (s *Service) deleteKey(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return s.translateError("DeleteObject", key, err)
	}
	return nil
}

func (s *Service) copyKey(ctx context.Context, src, dst string) error {
	_, err := s.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:       aws.String(s.cfg.Bucket),
		Key:          aws.String(dst),
		CopySource:   aws.String(copySource(s.cfg.Bucket, src)),
		StorageClass: storageClass(s.cfg.StorageTier),
	})
	if err != nil {
		return s.translateError("CopyObject", src, err)
	}
	return nil
}

func copySource(bucket, key string) string {
	return bucket + "/" + strings.ReplaceAll(url.PathEscape(key), "%2F", "/")
}

// keysUnder lists every key with the given prefix
func (s *Service) keysUnder(ctx context.Context, prefix string) ([]s3types.Object, error) {
	var objects []s3types.Object
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.translateError("ListObjectsV2", prefix, err)
		}
		objects = append(objects, page.Contents...)
	}
	return objects, nil
}

// OpenArchive opens the SD card archive. Only ArchiveSDMC is served.
func (s *Service) OpenArchive(ctx context.Context, id types.ArchiveID, p types.Path) (types.Archive, error) {
	if id != types.ArchiveSDMC {
		return 0, types.ResultNotSupported
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	archive := types.Archive(s.allocate())
	s.archives[archive] = struct{}{}
	s.logger.Debug("archive opened", "archive", uint64(archive))
	return archive, nil
}

// CloseArchive closes an archive handle
func (s *Service) CloseArchive(ctx context.Context, archive types.Archive) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.archives[archive]; !ok {
		return types.ResultInvalidHandle
	}
	delete(s.archives, archive)
	return nil
}

// ControlArchive supports ArchiveActionGetTimestamp for files
func (s *Service) ControlArchive(ctx context.Context, archive types.Archive, action types.ArchiveAction, input []byte, output []byte) error {
	if action != types.ArchiveActionGetTimestamp {
		return types.ResultNotSupported
	}
	if len(output) < 8 {
		return types.ResultInvalidPath
	}

	name, err := s.resolve(archive, types.Path{Type: types.PathUTF16, Data: input})
	if err != nil {
		return err
	}
	_, mtime, err := s.headFile(ctx, s.objectKey(name))
	if err != nil {
		return err
	}

	millis := max(mtime.UnixMilli()-millisTo2000, 0)
	binary.LittleEndian.PutUint64(output, uint64(millis))
	return nil
}

// GetArchiveResource reports the configured capacity less the bytes
// stored below the prefix
func (s *Service) GetArchiveResource(ctx context.Context, archive types.Archive) (types.ArchiveResource, error) {
	if _, err := s.resolve(archive, types.Path{Type: types.PathASCII, Data: []byte("/")}); err != nil {
		return types.ArchiveResource{}, err
	}

	objects, err := s.keysUnder(ctx, s.cfg.Prefix)
	if err != nil {
		return types.ArchiveResource{}, err
	}

	cluster := uint64(s.cfg.ClusterSize)
	total := s.cfg.Capacity / cluster
	var used uint64
	for _, obj := range objects {
		used += (uint64(aws.ToInt64(obj.Size)) + cluster - 1) / cluster
	}
	free := uint64(0)
	if used < total {
		free = total - used
	}

	return types.ArchiveResource{
		SectorSize:    sectorSize,
		ClusterSize:   s.cfg.ClusterSize,
		TotalClusters: uint32(min(total, uint64(^uint32(0)))),
		FreeClusters:  uint32(min(free, uint64(^uint32(0)))),
	}, nil
}

// IsWritable reports whether the service accepts writes
func (s *Service) IsWritable(ctx context.Context, archive types.Archive) (bool, error) {
	if _, err := s.resolve(archive, types.Path{Type: types.PathASCII, Data: []byte("/")}); err != nil {
		return false, err
	}
	return !s.cfg.ReadOnly, nil
}

// OpenFile opens a file object, creating an empty one for OpenCreate
func (s *Service) OpenFile(ctx context.Context, archive types.Archive, p types.Path, flags types.OpenFlags, attributes uint32) (types.Handle, error) {
	name, err := s.resolve(archive, p)
	if err != nil {
		return 0, err
	}
	if flags&(types.OpenRead|types.OpenWrite) == 0 {
		return 0, types.ResultInvalidPath
	}
	if flags&types.OpenWrite != 0 {
		if err := s.writable(0); err != nil {
			return 0, err
		}
	}
	if name == "/" {
		return 0, types.ResultNotFound
	}

	key := s.objectKey(name)
	obj := &object{key: key, flags: flags}

	size, _, err := s.headFile(ctx, key)
	switch {
	case err == nil:
		obj.size = size
	case errors.Is(err, types.ResultNotFound) && flags&types.OpenCreate != 0:
		if err := s.writable(0); err != nil {
			return 0, err
		}
		if dir, err := s.isDir(ctx, name); err != nil {
			return 0, err
		} else if dir {
			return 0, types.ResultNotFound
		}
		if err := s.requireParent(ctx, name); err != nil {
			return 0, err
		}
		obj.loaded = true
		obj.dirty = true
	default:
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	handle := s.allocate()
	s.files[handle] = obj
	return handle, nil
}

func (s *Service) file(handle types.Handle) (*object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.files[handle]
	if !ok {
		return nil, types.ResultInvalidHandle
	}
	return obj, nil
}

// load pulls the whole object into memory. Called with obj.mu held.
func (s *Service) load(ctx context.Context, obj *object) error {
	if obj.loaded {
		return nil
	}
	if obj.size > 0 {
		data, err := s.get(ctx, obj.key, nil)
		if err != nil {
			return err
		}
		obj.data = data
	}
	obj.loaded = true
	return nil
}

// flush uploads dirty contents. Called with obj.mu held.
func (s *Service) flush(ctx context.Context, obj *object) error {
	if !obj.dirty {
		return nil
	}
	if err := s.put(ctx, obj.key, obj.data); err != nil {
		return err
	}
	obj.dirty = false
	obj.size = uint64(len(obj.data))
	return nil
}

// CloseFile uploads pending writes and releases the handle
func (s *Service) CloseFile(ctx context.Context, handle types.Handle) error {
	s.mu.Lock()
	obj, ok := s.files[handle]
	delete(s.files, handle)
	s.mu.Unlock()
	if !ok {
		return types.ResultInvalidHandle
	}

	obj.mu.Lock()
	defer obj.mu.Unlock()
	return s.flush(ctx, obj)
}

// ReadFile reads at offset. Unmodified objects are read with a ranged GET.
func (s *Service) ReadFile(ctx context.Context, handle types.Handle, offset uint64, buf []byte) (int, error) {
	obj, err := s.file(handle)
	if err != nil {
		return 0, err
	}
	if obj.flags&types.OpenRead == 0 {
		return 0, types.ResultAccessDenied
	}

	obj.mu.Lock()
	defer obj.mu.Unlock()

	if obj.loaded {
		if offset >= uint64(len(obj.data)) {
			return 0, nil
		}
		return copy(buf, obj.data[offset:]), nil
	}

	if offset >= obj.size || len(buf) == 0 {
		return 0, nil
	}
	end := min(offset+uint64(len(buf)), obj.size) - 1
	data, err := s.get(ctx, obj.key, aws.String(fmt.Sprintf("bytes=%d-%d", offset, end)))
	if err != nil {
		return 0, err
	}
	return copy(buf, data), nil
}

// WriteFile writes at offset, extending the file with zeros if needed
func (s *Service) WriteFile(ctx context.Context, handle types.Handle, offset uint64, data []byte, flags types.WriteFlags) (int, error) {
	obj, err := s.file(handle)
	if err != nil {
		return 0, err
	}
	if err := s.writable(obj.flags); err != nil {
		return 0, err
	}

	obj.mu.Lock()
	defer obj.mu.Unlock()

	if err := s.load(ctx, obj); err != nil {
		return 0, err
	}
	end := offset + uint64(len(data))
	if end < offset {
		return 0, types.ResultDiskFull
	}
	if err := s.checkSize(end); err != nil {
		return 0, err
	}
	if end > uint64(len(obj.data)) {
		obj.resize(end)
	}
	copy(obj.data[offset:], data)
	obj.dirty = true

	if flags&types.WriteFlush != 0 {
		if err := s.flush(ctx, obj); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

// GetFileSize returns the current size including unflushed writes
func (s *Service) GetFileSize(ctx context.Context, handle types.Handle) (uint64, error) {
	obj, err := s.file(handle)
	if err != nil {
		return 0, err
	}

	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.loaded {
		return uint64(len(obj.data)), nil
	}
	return obj.size, nil
}

// SetFileSize truncates or zero-extends the file
func (s *Service) SetFileSize(ctx context.Context, handle types.Handle, size uint64) error {
	obj, err := s.file(handle)
	if err != nil {
		return err
	}
	if err := s.writable(obj.flags); err != nil {
		return err
	}
	if err := s.checkSize(size); err != nil {
		return err
	}

	obj.mu.Lock()
	defer obj.mu.Unlock()

	if size == 0 {
		obj.data = nil
		obj.loaded = true
	} else if err := s.load(ctx, obj); err != nil {
		return err
	}
	obj.resize(size)
	obj.dirty = true
	return nil
}

// FlushFile uploads pending writes
func (s *Service) FlushFile(ctx context.Context, handle types.Handle) error {
	obj, err := s.file(handle)
	if err != nil {
		return err
	}

	obj.mu.Lock()
	defer obj.mu.Unlock()
	return s.flush(ctx, obj)
}

// OpenDirectory lists a directory. The listing is taken once, at open.
func (s *Service) OpenDirectory(ctx context.Context, archive types.Archive, p types.Path) (types.Handle, error) {
	name, err := s.resolve(archive, p)
	if err != nil {
		return 0, err
	}

	file, dir, err := s.kind(ctx, name)
	if err != nil {
		return 0, err
	}
	if file {
		return 0, types.ResultPathNotFound
	}
	if !dir {
		return 0, types.ResultNotFound
	}

	entries, err := s.list(ctx, s.dirPrefix(name))
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	handle := s.allocate()
	s.dirs[handle] = &listing{entries: entries}
	return handle, nil
}

// list returns the children of prefix sorted by name
func (s *Service) list(ctx context.Context, prefix string) ([]types.DirectoryEntry, error) {
	type child struct {
		name  string
		isDir bool
		size  uint64
	}
	var children []child

	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.cfg.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.translateError("ListObjectsV2", prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				children = append(children, child{name: name, isDir: true})
			}
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue
			}
			children = append(children, child{name: name, size: uint64(aws.ToInt64(obj.Size))})
		}
	}

	slices.SortFunc(children, func(a, b child) int {
		return strings.Compare(a.name, b.name)
	})
	entries := make([]types.DirectoryEntry, len(children))
	for i, c := range children {
		entries[i] = wire.NewEntry(c.name, c.isDir, c.size)
	}
	return entries, nil
}

// ReadDirectory fills entries with the next batch and returns how many
// were written. Zero means the enumeration is complete.
func (s *Service) ReadDirectory(ctx context.Context, handle types.Handle, entries []types.DirectoryEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, ok := s.dirs[handle]
	if !ok {
		return 0, types.ResultInvalidHandle
	}
	n := copy(entries, dir.entries[dir.pos:])
	dir.pos += n
	return n, nil
}

// CloseDirectory releases a directory handle
func (s *Service) CloseDirectory(ctx context.Context, handle types.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dirs[handle]; !ok {
		return types.ResultInvalidHandle
	}
	delete(s.dirs, handle)
	return nil
}

// CreateFile creates a zero-filled file of the given size
func (s *Service) CreateFile(ctx context.Context, archive types.Archive, p types.Path, attributes uint32, size uint64) error {
	name, err := s.resolve(archive, p)
	if err != nil {
		return err
	}
	if err := s.writable(0); err != nil {
		return err
	}
	if err := s.checkSize(size); err != nil {
		return err
	}

	file, dir, err := s.kind(ctx, name)
	if err != nil {
		return err
	}
	if file || dir {
		return types.ResultAlreadyExists
	}
	if err := s.requireParent(ctx, name); err != nil {
		return err
	}
	return s.put(ctx, s.objectKey(name), make([]byte, size))
}

// DeleteFile removes a file object
func (s *Service) DeleteFile(ctx context.Context, archive types.Archive, p types.Path) error {
	name, err := s.resolve(archive, p)
	if err != nil {
		return err
	}
	if err := s.writable(0); err != nil {
		return err
	}
	if name == "/" {
		return types.ResultNotFound
	}

	key := s.objectKey(name)
	if _, _, err := s.headFile(ctx, key); err != nil {
		return err
	}
	return s.deleteKey(ctx, key)
}

// RenameFile copies a file object to its new key and deletes the old one.
// The destination must not exist.
func (s *Service) RenameFile(ctx context.Context, srcArchive types.Archive, src types.Path, dstArchive types.Archive, dst types.Path) error {
	from, err := s.resolve(srcArchive, src)
	if err != nil {
		return err
	}
	to, err := s.resolve(dstArchive, dst)
	if err != nil {
		return err
	}
	if err := s.writable(0); err != nil {
		return err
	}
	if from == "/" {
		return types.ResultNotFound
	}

	fromKey := s.objectKey(from)
	if _, _, err := s.headFile(ctx, fromKey); err != nil {
		return err
	}
	if file, dir, err := s.kind(ctx, to); err != nil {
		return err
	} else if file || dir {
		return types.ResultAlreadyExists
	}
	if err := s.requireParent(ctx, to); err != nil {
		return err
	}

	if err := s.copyKey(ctx, fromKey, s.objectKey(to)); err != nil {
		return err
	}
	return s.deleteKey(ctx, fromKey)
}

// CreateDirectory writes a directory marker
func (s *Service) CreateDirectory(ctx context.Context, archive types.Archive, p types.Path, attributes uint32) error {
	name, err := s.resolve(archive, p)
	if err != nil {
		return err
	}
	if err := s.writable(0); err != nil {
		return err
	}

	file, dir, err := s.kind(ctx, name)
	if err != nil {
		return err
	}
	if dir {
		return types.ResultDirectoryExists
	}
	if file {
		return types.ResultAlreadyExists
	}
	if err := s.requireParent(ctx, name); err != nil {
		return err
	}
	return s.put(ctx, s.dirPrefix(name), nil)
}

// DeleteDirectory removes an empty directory
func (s *Service) DeleteDirectory(ctx context.Context, archive types.Archive, p types.Path) error {
	name, err := s.resolve(archive, p)
	if err != nil {
		return err
	}
	if err := s.writable(0); err != nil {
		return err
	}
	if name == "/" {
		return types.ResultAccessDenied
	}

	prefix := s.dirPrefix(name)
	objects, err := s.keysUnder(ctx, prefix)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		return types.ResultNotFound
	}
	for _, obj := range objects {
		if aws.ToString(obj.Key) != prefix {
			return types.ResultNotEmpty
		}
	}
	return s.deleteKey(ctx, prefix)
}

// RenameDirectory moves every key below the directory to the new prefix
func (s *Service) RenameDirectory(ctx context.Context, srcArchive types.Archive, src types.Path, dstArchive types.Archive, dst types.Path) error {
	from, err := s.resolve(srcArchive, src)
	if err != nil {
		return err
	}
	to, err := s.resolve(dstArchive, dst)
	if err != nil {
		return err
	}
	if err := s.writable(0); err != nil {
		return err
	}
	if from == "/" || to == "/" || strings.HasPrefix(to+"/", from+"/") {
		return types.ResultInvalidPath
	}

	fromPrefix := s.dirPrefix(from)
	objects, err := s.keysUnder(ctx, fromPrefix)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		return types.ResultNotFound
	}
	if file, dir, err := s.kind(ctx, to); err != nil {
		return err
	} else if file || dir {
		return types.ResultAlreadyExists
	}
	if err := s.requireParent(ctx, to); err != nil {
		return err
	}

	toPrefix := s.dirPrefix(to)
	for _, obj := range objects {
		key := aws.ToString(obj.Key)
		if err := s.copyKey(ctx, key, toPrefix+strings.TrimPrefix(key, fromPrefix)); err != nil {
			return err
		}
	}
	for _, obj := range objects {
		if err := s.deleteKey(ctx, aws.ToString(obj.Key)); err != nil {
			return err
		}
	}
	s.logger.Debug("directory renamed", "from", from, "to", to, "objects", len(objects))
	return nil
}
