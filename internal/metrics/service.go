package metrics

import (
	"context"
	"time"

	"github.com/objectfs/sdmcfs/pkg/types"
)

// Operation labels, one per storage service call
const (
	OpOpenArchive        = "open_archive"
	OpCloseArchive       = "close_archive"
	OpControlArchive     = "control_archive"
	OpGetArchiveResource = "get_archive_resource"
	OpIsWritable         = "is_writable"
	OpExempt             = "exempt_from_session"
	OpUnexempt           = "unexempt_from_session"
	OpOpenFile           = "open_file"
	OpCloseFile          = "close_file"
	OpReadFile           = "read_file"
	OpWriteFile          = "write_file"
	OpGetFileSize        = "get_file_size"
	OpSetFileSize        = "set_file_size"
	OpFlushFile          = "flush_file"
	OpOpenDirectory      = "open_directory"
	OpReadDirectory      = "read_directory"
	OpCloseDirectory     = "close_directory"
	OpCreateFile         = "create_file"
	OpDeleteFile         = "delete_file"
	OpRenameFile         = "rename_file"
	OpCreateDirectory    = "create_directory"
	OpDeleteDirectory    = "delete_directory"
	OpRenameDirectory    = "rename_directory"
)

// Service records every call made to the wrapped storage service
type Service struct {
	next      types.Service
	collector *Collector
}

type exemptingService struct {
	*Service
	exempter types.SessionExempter
}

// Instrument wraps svc so each call is recorded by c. The result keeps
// session exemption support only when svc has it. A nil or disabled
// collector returns svc unchanged.
func Instrument(svc types.Service, c *Collector) types.Service {
	if c == nil || !c.Enabled() {
		return svc
	}
	s := &Service{next: svc, collector: c}
	if exempter, ok := svc.(types.SessionExempter); ok {
		return &exemptingService{Service: s, exempter: exempter}
	}
	return s
}

func (s *Service) record(op string, start time.Time, size int, err error) {
	s.collector.RecordOperation(op, time.Since(start), int64(size), err)
}

func (s *Service) OpenArchive(ctx context.Context, id types.ArchiveID, path types.Path) (types.Archive, error) {
	start := time.Now()
	archive, err := s.next.OpenArchive(ctx, id, path)
	s.record(OpOpenArchive, start, 0, err)
	if err == nil {
		s.collector.HandleOpened("archive", 1)
	}
	return archive, err
}

func (s *Service) CloseArchive(ctx context.Context, archive types.Archive) error {
	start := time.Now()
	err := s.next.CloseArchive(ctx, archive)
	s.record(OpCloseArchive, start, 0, err)
	if err == nil {
		s.collector.HandleOpened("archive", -1)
	}
	return err
}

func (s *Service) ControlArchive(ctx context.Context, archive types.Archive, action types.ArchiveAction, input []byte, output []byte) error {
	start := time.Now()
	err := s.next.ControlArchive(ctx, archive, action, input, output)
	s.record(OpControlArchive, start, 0, err)
	return err
}

func (s *Service) GetArchiveResource(ctx context.Context, archive types.Archive) (types.ArchiveResource, error) {
	start := time.Now()
	resource, err := s.next.GetArchiveResource(ctx, archive)
	s.record(OpGetArchiveResource, start, 0, err)
	return resource, err
}

func (s *Service) IsWritable(ctx context.Context, archive types.Archive) (bool, error) {
	start := time.Now()
	writable, err := s.next.IsWritable(ctx, archive)
	s.record(OpIsWritable, start, 0, err)
	return writable, err
}

func (s *Service) OpenFile(ctx context.Context, archive types.Archive, path types.Path, flags types.OpenFlags, attributes uint32) (types.Handle, error) {
	start := time.Now()
	handle, err := s.next.OpenFile(ctx, archive, path, flags, attributes)
	s.record(OpOpenFile, start, 0, err)
	if err == nil {
		s.collector.HandleOpened("file", 1)
	}
	return handle, err
}

func (s *Service) CloseFile(ctx context.Context, file types.Handle) error {
	start := time.Now()
	err := s.next.CloseFile(ctx, file)
	s.record(OpCloseFile, start, 0, err)
	if err == nil {
		s.collector.HandleOpened("file", -1)
	}
	return err
}

func (s *Service) ReadFile(ctx context.Context, file types.Handle, offset uint64, buf []byte) (int, error) {
	start := time.Now()
	n, err := s.next.ReadFile(ctx, file, offset, buf)
	s.record(OpReadFile, start, n, err)
	return n, err
}

func (s *Service) WriteFile(ctx context.Context, file types.Handle, offset uint64, data []byte, flags types.WriteFlags) (int, error) {
	start := time.Now()
	n, err := s.next.WriteFile(ctx, file, offset, data, flags)
	s.record(OpWriteFile, start, n, err)
	return n, err
}

func (s *Service) GetFileSize(ctx context.Context, file types.Handle) (uint64, error) {
	start := time.Now()
	size, err := s.next.GetFileSize(ctx, file)
	s.record(OpGetFileSize, start, 0, err)
	return size, err
}

func (s *Service) SetFileSize(ctx context.Context, file types.Handle, size uint64) error {
	start := time.Now()
	err := s.next.SetFileSize(ctx, file, size)
	s.record(OpSetFileSize, start, 0, err)
	return err
}

func (s *Service) FlushFile(ctx context.Context, file types.Handle) error {
	start := time.Now()
	err := s.next.FlushFile(ctx, file)
	s.record(OpFlushFile, start, 0, err)
	return err
}

func (s *Service) OpenDirectory(ctx context.Context, archive types.Archive, path types.Path) (types.Handle, error) {
	start := time.Now()
	handle, err := s.next.OpenDirectory(ctx, archive, path)
	s.record(OpOpenDirectory, start, 0, err)
	if err == nil {
		s.collector.HandleOpened("directory", 1)
	}
	return handle, err
}

func (s *Service) ReadDirectory(ctx context.Context, dir types.Handle, entries []types.DirectoryEntry) (int, error) {
	start := time.Now()
	n, err := s.next.ReadDirectory(ctx, dir, entries)
	s.record(OpReadDirectory, start, 0, err)
	return n, err
}

func (s *Service) CloseDirectory(ctx context.Context, dir types.Handle) error {
	start := time.Now()
	err := s.next.CloseDirectory(ctx, dir)
	s.record(OpCloseDirectory, start, 0, err)
	if err == nil {
		s.collector.HandleOpened("directory", -1)
	}
	return err
}

func (s *Service) CreateFile(ctx context.Context, archive types.Archive, path types.Path, attributes uint32, size uint64) error {
	start := time.Now()
	err := s.next.CreateFile(ctx, archive, path, attributes, size)
	s.record(OpCreateFile, start, 0, err)
	return err
}

func (s *Service) DeleteFile(ctx context.Context, archive types.Archive, path types.Path) error {
	start := time.Now()
	err := s.next.DeleteFile(ctx, archive, path)
	s.record(OpDeleteFile, start, 0, err)
	return err
}

func (s *Service) RenameFile(ctx context.Context, srcArchive types.Archive, src types.Path, dstArchive types.Archive, dst types.Path) error {
	start := time.Now()
	err := s.next.RenameFile(ctx, srcArchive, src, dstArchive, dst)
	s.record(OpRenameFile, start, 0, err)
	return err
}

func (s *Service) CreateDirectory(ctx context.Context, archive types.Archive, path types.Path, attributes uint32) error {
	start := time.Now()
	err := s.next.CreateDirectory(ctx, archive, path, attributes)
	s.record(OpCreateDirectory, start, 0, err)
	return err
}

func (s *Service) DeleteDirectory(ctx context.Context, archive types.Archive, path types.Path) error {
	start := time.Now()
	err := s.next.DeleteDirectory(ctx, archive, path)
	s.record(OpDeleteDirectory, start, 0, err)
	return err
}

func (s *Service) RenameDirectory(ctx context.Context, srcArchive types.Archive, src types.Path, dstArchive types.Archive, dst types.Path) error {
	start := time.Now()
	err := s.next.RenameDirectory(ctx, srcArchive, src, dstArchive, dst)
	s.record(OpRenameDirectory, start, 0, err)
	return err
}

func (s *exemptingService) ExemptFromSession(ctx context.Context, archive types.Archive) error {
	start := time.Now()
	err := s.exempter.ExemptFromSession(ctx, archive)
	s.record(OpExempt, start, 0, err)
	return err
}

func (s *exemptingService) UnexemptFromSession(ctx context.Context, archive types.Archive) error {
	start := time.Now()
	err := s.exempter.UnexemptFromSession(ctx, archive)
	s.record(OpUnexempt, start, 0, err)
	return err
}
