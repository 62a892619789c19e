package ipc

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/objectfs/sdmcfs/pkg/errors"
	"github.com/objectfs/sdmcfs/pkg/types"
)

// Client is a storage service reached over a Unix socket. Every call opens
// a fresh connection. Result codes reported by the server come back as
// types.Result errors; everything else is a transport failure.
type Client struct {
	socketPath string
}

var (
	_ types.Service         = (*Client)(nil)
	_ types.SessionExempter = (*Client)(nil)
)

// NewClient returns a client for the server listening on socketPath
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends req and decodes the reply data into result when both are
// present
func (c *Client) Call(ctx context.Context, req *Request, result any) error {
	if req.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generating request id: %w", err)
		}
		req.ID = id.String()
	}

	response, err := c.send(ctx, req)
	if err != nil {
		code := errors.ErrCodeConnectionFailed
		if ctx.Err() != nil {
			code = errors.ErrCodeOperationCanceled
		}
		return errors.Wrap(err, code, fmt.Sprintf("calling %q on %s", req.Action, c.socketPath)).
			WithComponent("ipc-client").
			WithOperation(req.Action)
	}

	if !response.OK {
		if response.Code != 0 {
			return types.Result(response.Code)
		}
		return &RemoteError{Action: req.Action, Message: response.Error}
	}

	if result != nil && len(response.Data) > 0 {
		if err := Unmarshal(response.Data, result); err != nil {
			return errors.Wrap(err, errors.ErrCodeProtocolError, "decoding response data").
				WithComponent("ipc-client").
				WithOperation(req.Action)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := newEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	if _, ok := ctx.Deadline(); !ok {
		conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	}
	var response Response
	if err := newDecoder(io.LimitReader(conn, maxMessageSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}

func (c *Client) OpenArchive(ctx context.Context, id types.ArchiveID, path types.Path) (types.Archive, error) {
	var reply archiveReply
	err := c.Call(ctx, &Request{Action: ActionOpenArchive, ArchiveID: id, Path: &path}, &reply)
	return reply.Archive, err
}

func (c *Client) CloseArchive(ctx context.Context, archive types.Archive) error {
	return c.Call(ctx, &Request{Action: ActionCloseArchive, Archive: archive}, nil)
}

func (c *Client) ControlArchive(ctx context.Context, archive types.Archive, action types.ArchiveAction, input []byte, output []byte) error {
	var reply dataReply
	err := c.Call(ctx, &Request{
		Action:  ActionControlArchive,
		Archive: archive,
		Control: action,
		Data:    input,
		Size:    uint64(len(output)),
	}, &reply)
	if err != nil {
		return err
	}
	copy(output, reply.Data)
	return nil
}

func (c *Client) GetArchiveResource(ctx context.Context, archive types.Archive) (types.ArchiveResource, error) {
	var reply types.ArchiveResource
	err := c.Call(ctx, &Request{Action: ActionGetArchiveResource, Archive: archive}, &reply)
	return reply, err
}

func (c *Client) IsWritable(ctx context.Context, archive types.Archive) (bool, error) {
	var reply writableReply
	err := c.Call(ctx, &Request{Action: ActionIsWritable, Archive: archive}, &reply)
	return reply.Writable, err
}

func (c *Client) ExemptFromSession(ctx context.Context, archive types.Archive) error {
	return c.Call(ctx, &Request{Action: ActionExemptFromSession, Archive: archive}, nil)
}

func (c *Client) UnexemptFromSession(ctx context.Context, archive types.Archive) error {
	return c.Call(ctx, &Request{Action: ActionUnexemptFromSession, Archive: archive}, nil)
}

func (c *Client) OpenFile(ctx context.Context, archive types.Archive, path types.Path, flags types.OpenFlags, attributes uint32) (types.Handle, error) {
	var reply handleReply
	err := c.Call(ctx, &Request{
		Action:     ActionOpenFile,
		Archive:    archive,
		Path:       &path,
		OpenFlags:  flags,
		Attributes: attributes,
	}, &reply)
	return reply.Handle, err
}

func (c *Client) CloseFile(ctx context.Context, file types.Handle) error {
	return c.Call(ctx, &Request{Action: ActionCloseFile, Handle: file}, nil)
}

// ReadFile splits large reads into transfers the protocol can carry and
// stops early on a short read.
func (c *Client) ReadFile(ctx context.Context, file types.Handle, offset uint64, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		chunk := min(len(buf)-total, maxTransfer)

		var reply dataReply
		err := c.Call(ctx, &Request{
			Action: ActionReadFile,
			Handle: file,
			Offset: offset + uint64(total),
			Size:   uint64(chunk),
		}, &reply)
		if err != nil {
			return total, err
		}

		n := copy(buf[total:], reply.Data)
		total += n
		if n < chunk {
			break
		}
	}
	return total, nil
}

// WriteFile splits large writes into transfers the protocol can carry and
// stops early on a short write.
func (c *Client) WriteFile(ctx context.Context, file types.Handle, offset uint64, data []byte, flags types.WriteFlags) (int, error) {
	total := 0
	for {
		chunk := min(len(data)-total, maxTransfer)

		var reply countReply
		err := c.Call(ctx, &Request{
			Action:     ActionWriteFile,
			Handle:     file,
			Offset:     offset + uint64(total),
			Data:       data[total : total+chunk],
			WriteFlags: flags,
		}, &reply)
		if err != nil {
			return total, err
		}

		total += reply.Count
		if reply.Count < chunk || total >= len(data) {
			return total, nil
		}
	}
}

func (c *Client) GetFileSize(ctx context.Context, file types.Handle) (uint64, error) {
	var reply sizeReply
	err := c.Call(ctx, &Request{Action: ActionGetFileSize, Handle: file}, &reply)
	return reply.Size, err
}

func (c *Client) SetFileSize(ctx context.Context, file types.Handle, size uint64) error {
	return c.Call(ctx, &Request{Action: ActionSetFileSize, Handle: file, Size: size}, nil)
}

func (c *Client) FlushFile(ctx context.Context, file types.Handle) error {
	return c.Call(ctx, &Request{Action: ActionFlushFile, Handle: file}, nil)
}

func (c *Client) OpenDirectory(ctx context.Context, archive types.Archive, path types.Path) (types.Handle, error) {
	var reply handleReply
	err := c.Call(ctx, &Request{Action: ActionOpenDirectory, Archive: archive, Path: &path}, &reply)
	return reply.Handle, err
}

func (c *Client) ReadDirectory(ctx context.Context, dir types.Handle, entries []types.DirectoryEntry) (int, error) {
	var reply entriesReply
	err := c.Call(ctx, &Request{
		Action: ActionReadDirectory,
		Handle: dir,
		Count:  min(len(entries), maxEntries),
	}, &reply)
	if err != nil {
		return 0, err
	}
	return copy(entries, reply.Entries), nil
}

func (c *Client) CloseDirectory(ctx context.Context, dir types.Handle) error {
	return c.Call(ctx, &Request{Action: ActionCloseDirectory, Handle: dir}, nil)
}

func (c *Client) CreateFile(ctx context.Context, archive types.Archive, path types.Path, attributes uint32, size uint64) error {
	return c.Call(ctx, &Request{
		Action:     ActionCreateFile,
		Archive:    archive,
		Path:       &path,
		Attributes: attributes,
		Size:       size,
	}, nil)
}

func (c *Client) DeleteFile(ctx context.Context, archive types.Archive, path types.Path) error {
	return c.Call(ctx, &Request{Action: ActionDeleteFile, Archive: archive, Path: &path}, nil)
}

func (c *Client) RenameFile(ctx context.Context, srcArchive types.Archive, src types.Path, dstArchive types.Archive, dst types.Path) error {
	return c.Call(ctx, &Request{
		Action:     ActionRenameFile,
		Archive:    srcArchive,
		Path:       &src,
		DstArchive: dstArchive,
		DstPath:    &dst,
	}, nil)
}

func (c *Client) CreateDirectory(ctx context.Context, archive types.Archive, path types.Path, attributes uint32) error {
	return c.Call(ctx, &Request{
		Action:     ActionCreateDirectory,
		Archive:    archive,
		Path:       &path,
		Attributes: attributes,
	}, nil)
}

func (c *Client) DeleteDirectory(ctx context.Context, archive types.Archive, path types.Path) error {
	return c.Call(ctx, &Request{Action: ActionDeleteDirectory, Archive: archive, Path: &path}, nil)
}

func (c *Client) RenameDirectory(ctx context.Context, srcArchive types.Archive, src types.Path, dstArchive types.Archive, dst types.Path) error {
	return c.Call(ctx, &Request{
		Action:     ActionRenameDirectory,
		Archive:    srcArchive,
		Path:       &src,
		DstArchive: dstArchive,
		DstPath:    &dst,
	}, nil)
}
