package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/objectfs/sdmcfs/pkg/types"
)

// ActionFunc serves one decoded request. A nil result produces a bare
// success response.
type ActionFunc func(ctx context.Context, req *Request) (any, error)

// Server exposes a storage service on a Unix socket. Each connection
// carries exactly one request and one response.
type Server struct {
	socketPath string
	svc        types.Service
	handlers   map[string]ActionFunc
	logger     *slog.Logger
	ready      chan struct{}

	activeConnections sync.WaitGroup
}

// NewServer creates a server for svc listening on socketPath
func NewServer(socketPath string, svc types.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		socketPath: socketPath,
		svc:        svc,
		handlers:   make(map[string]ActionFunc),
		logger:     logger.With("component", "ipc-server"),
		ready:      make(chan struct{}),
	}
	s.registerService()
	return s
}

// Handle registers a handler for action. Registering an action twice
// panics.
func (s *Server) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("ipc.Server: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Ready is closed once the socket is listening
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight requests. A stale socket file is replaced; the socket file is
// removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath)
	close(s.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var req Request
	if err := newDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeResponse(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if req.Action == "" {
		s.writeResponse(conn, Response{Error: "missing required field: action"})
		return
	}

	handler, exists := s.handlers[req.Action]
	if !exists {
		s.writeResponse(conn, Response{Error: fmt.Sprintf("unknown action %q", req.Action)})
		return
	}

	result, err := handler(ctx, &req)
	if err != nil {
		s.logger.Debug("action failed", "action", req.Action, "id", req.ID, "error", err)
		response := Response{Error: err.Error()}
		var code types.Result
		if errors.As(err, &code) {
			response.Code = uint32(code)
		}
		s.writeResponse(conn, response)
		return
	}

	response := Response{OK: true}
	if result != nil {
		data, err := Marshal(result)
		if err != nil {
			s.writeResponse(conn, Response{Error: fmt.Sprintf("internal: marshaling response: %v", err)})
			return
		}
		response.Data = data
	}
	s.writeResponse(conn, response)
}

// writeResponse failures are only logged; the connection is closing
// regardless.
func (s *Server) writeResponse(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := newEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

func pathOf(req *Request) types.Path {
	if req.Path == nil {
		return types.Path{}
	}
	return *req.Path
}

func dstPathOf(req *Request) types.Path {
	if req.DstPath == nil {
		return types.Path{}
	}
	return *req.DstPath
}

// registerService binds every storage service operation to its action
func (s *Server) registerService() {
	svc := s.svc

	s.Handle(ActionOpenArchive, func(ctx context.Context, req *Request) (any, error) {
		archive, err := svc.OpenArchive(ctx, req.ArchiveID, pathOf(req))
		if err != nil {
			return nil, err
		}
		return archiveReply{Archive: archive}, nil
	})
	s.Handle(ActionCloseArchive, func(ctx context.Context, req *Request) (any, error) {
		return nil, svc.CloseArchive(ctx, req.Archive)
	})
	s.Handle(ActionControlArchive, func(ctx context.Context, req *Request) (any, error) {
		if req.Size > maxTransfer {
			return nil, fmt.Errorf("control output of %d bytes exceeds %d", req.Size, maxTransfer)
		}
		out := make([]byte, req.Size)
		if err := svc.ControlArchive(ctx, req.Archive, req.Control, req.Data, out); err != nil {
			return nil, err
		}
		return dataReply{Data: out}, nil
	})
	s.Handle(ActionGetArchiveResource, func(ctx context.Context, req *Request) (any, error) {
		resource, err := svc.GetArchiveResource(ctx, req.Archive)
		if err != nil {
			return nil, err
		}
		return resource, nil
	})
	s.Handle(ActionIsWritable, func(ctx context.Context, req *Request) (any, error) {
		writable, err := svc.IsWritable(ctx, req.Archive)
		if err != nil {
			return nil, err
		}
		return writableReply{Writable: writable}, nil
	})
	s.Handle(ActionExemptFromSession, func(ctx context.Context, req *Request) (any, error) {
		exempter, ok := svc.(types.SessionExempter)
		if !ok {
			return nil, types.ResultNotSupported
		}
		return nil, exempter.ExemptFromSession(ctx, req.Archive)
	})
	s.Handle(ActionUnexemptFromSession, func(ctx context.Context, req *Request) (any, error) {
		exempter, ok := svc.(types.SessionExempter)
		if !ok {
			return nil, types.ResultNotSupported
		}
		return nil, exempter.UnexemptFromSession(ctx, req.Archive)
	})

	s.Handle(ActionOpenFile, func(ctx context.Context, req *Request) (any, error) {
		handle, err := svc.OpenFile(ctx, req.Archive, pathOf(req), req.OpenFlags, req.Attributes)
		if err != nil {
			return nil, err
		}
		return handleReply{Handle: handle}, nil
	})
	s.Handle(ActionCloseFile, func(ctx context.Context, req *Request) (any, error) {
		return nil, svc.CloseFile(ctx, req.Handle)
	})
	s.Handle(ActionReadFile, func(ctx context.Context, req *Request) (any, error) {
		if req.Size > maxTransfer {
			return nil, fmt.Errorf("read of %d bytes exceeds %d", req.Size, maxTransfer)
		}
		buf := make([]byte, req.Size)
		n, err := svc.ReadFile(ctx, req.Handle, req.Offset, buf)
		if err != nil {
			return nil, err
		}
		return dataReply{Data: buf[:n]}, nil
	})
	s.Handle(ActionWriteFile, func(ctx context.Context, req *Request) (any, error) {
		n, err := svc.WriteFile(ctx, req.Handle, req.Offset, req.Data, req.WriteFlags)
		if err != nil {
			return nil, err
		}
		return countReply{Count: n}, nil
	})
	s.Handle(ActionGetFileSize, func(ctx context.Context, req *Request) (any, error) {
		size, err := svc.GetFileSize(ctx, req.Handle)
		if err != nil {
			return nil, err
		}
		return sizeReply{Size: size}, nil
	})
	s.Handle(ActionSetFileSize, func(ctx context.Context, req *Request) (any, error) {
		return nil, svc.SetFileSize(ctx, req.Handle, req.Size)
	})
	s.Handle(ActionFlushFile, func(ctx context.Context, req *Request) (any, error) {
		return nil, svc.FlushFile(ctx, req.Handle)
	})

	s.Handle(ActionOpenDirectory, func(ctx context.Context, req *Request) (any, error) {
		handle, err := svc.OpenDirectory(ctx, req.Archive, pathOf(req))
		if err != nil {
			return nil, err
		}
		return handleReply{Handle: handle}, nil
	})
	s.Handle(ActionReadDirectory, func(ctx context.Context, req *Request) (any, error) {
		count := min(max(req.Count, 0), maxEntries)
		entries := make([]types.DirectoryEntry, count)
		n, err := svc.ReadDirectory(ctx, req.Handle, entries)
		if err != nil {
			return nil, err
		}
		return entriesReply{Entries: entries[:n]}, nil
	})
	s.Handle(ActionCloseDirectory, func(ctx context.Context, req *Request) (any, error) {
		return nil, svc.CloseDirectory(ctx, req.Handle)
	})

	s.Handle(ActionCreateFile, func(ctx context.Context, req *Request) (any, error) {
		return nil, svc.CreateFile(ctx, req.Archive, pathOf(req), req.Attributes, req.Size)
	})
	s.Handle(ActionDeleteFile, func(ctx context.Context, req *Request) (any, error) {
		return nil, svc.DeleteFile(ctx, req.Archive, pathOf(req))
	})
	s.Handle(ActionRenameFile, func(ctx context.Context, req *Request) (any, error) {
		return nil, svc.RenameFile(ctx, req.Archive, pathOf(req), req.DstArchive, dstPathOf(req))
	})
	s.Handle(ActionCreateDirectory, func(ctx context.Context, req *Request) (any, error) {
		return nil, svc.CreateDirectory(ctx, req.Archive, pathOf(req), req.Attributes)
	})
	s.Handle(ActionDeleteDirectory, func(ctx context.Context, req *Request) (any, error) {
		return nil, svc.DeleteDirectory(ctx, req.Archive, pathOf(req))
	})
	s.Handle(ActionRenameDirectory, func(ctx context.Context, req *Request) (any, error) {
		return nil, svc.RenameDirectory(ctx, req.Archive, pathOf(req), req.DstArchive, dstPathOf(req))
	})
}
