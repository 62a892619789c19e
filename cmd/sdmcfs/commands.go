package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/objectfs/sdmcfs/internal/adapter"
	"github.com/objectfs/sdmcfs/internal/sdmc"
	"github.com/objectfs/sdmcfs/pkg/errors"
	"github.com/objectfs/sdmcfs/pkg/utils"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, env *environment, _ []string) error {
	a, err := adapter.New(env.config, os.Args, slog.Default())
	if err != nil {
		return err
	}
	defer stopAdapter(a)

	slog.Info("serving storage service", "socket", env.config.Server.SocketPath, "backend", env.config.Backend.Kind)
	return a.Serve(ctx)
}

func runMount(ctx context.Context, env *environment, args []string) error {
	env.config.Mount.MountPoint = args[0]

	a, err := adapter.New(env.config, os.Args, slog.Default())
	if err != nil {
		return err
	}
	defer stopAdapter(a)

	if err := a.Start(ctx); err != nil {
		return err
	}
	if err := a.Mount(ctx); err != nil {
		return err
	}

	exited := make(chan struct{})
	go func() {
		a.Wait()
		close(exited)
	}()

	select {
	case <-ctx.Done():
		slog.Info("signal received, unmounting", "mount_point", args[0])
	case <-exited:
		slog.Info("filesystem unmounted externally", "mount_point", args[0])
	}
	return nil
}

func runDf(ctx context.Context, env *environment, args []string) error {
	return withDevice(ctx, env, func(dev *sdmc.Device) error {
		path := "sdmc:/"
		if len(args) > 0 {
			path = args[0]
		}
		st, err := dev.Statvfs(ctx, path)
		if err != nil {
			return deviceError("Statvfs", path, err)
		}
		printStatvfs(env.stdout, dev.Name(), st)
		return nil
	})
}

func runLs(ctx context.Context, env *environment, args []string) error {
	return withDevice(ctx, env, func(dev *sdmc.Device) error {
		path := "sdmc:/"
		if len(args) > 0 {
			path = args[0]
		}

		dd, err := dev.DirOpen(ctx, path)
		if err != nil {
			return deviceError("DirOpen", path, err)
		}
		defer dev.DirClose(ctx, dd)

		for {
			entry, err := dev.DirNext(ctx, dd)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return deviceError("DirNext", path, err)
			}
			printEntry(env.stdout, entry)
		}
	})
}

func runMtime(ctx context.Context, env *environment, args []string) error {
	return withDevice(ctx, env, func(dev *sdmc.Device) error {
		secs, err := dev.GetMtime(ctx, args[0])
		if err != nil {
			return deviceError("GetMtime", args[0], err)
		}
		fmt.Fprintf(env.stdout, "%d\t%s\n", secs, time.Unix(int64(secs), 0).UTC().Format(time.RFC3339))
		return nil
	})
}

// withDevice starts a device for the duration of fn
func withDevice(ctx context.Context, env *environment, fn func(dev *sdmc.Device) error) error {
	a, err := adapter.New(env.config, nil, slog.Default())
	if err != nil {
		return err
	}
	defer stopAdapter(a)

	if err := a.Start(ctx); err != nil {
		return err
	}
	return fn(a.Device())
}

func stopAdapter(a *adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
}

func deviceError(op, path string, err error) error {
	return errors.Wrap(err, errors.ErrCodeOperationFailed, "device call failed").
		WithComponent("sdmc").
		WithOperation(op).
		WithPath(path)
}

func printStatvfs(w io.Writer, name string, st sdmc.Statvfs) {
	total := st.Blocks * st.Frsize
	free := st.Bfree * st.Frsize
	fmt.Fprintf(w, "%-8s %12s %12s %12s  %s\n", "Device", "Size", "Used", "Avail", "Cluster")
	fmt.Fprintf(w, "%-8s %12s %12s %12s  %s\n", name+":",
		utils.FormatBytes(total), utils.FormatBytes(total-free), utils.FormatBytes(st.Bavail*st.Frsize),
		utils.FormatBytes(st.Bsize))
	if st.Flag&sdmc.StatvfsReadOnly != 0 {
		fmt.Fprintln(w, "(read-only)")
	}
}

func printEntry(w io.Writer, entry sdmc.DirEntry) {
	kind := "-"
	name := entry.Name
	if entry.Stat.IsDir() {
		kind = "d"
		name += "/"
	}
	fmt.Fprintf(w, "%s %10d  %s\n", kind, entry.Stat.Size, name)
}
