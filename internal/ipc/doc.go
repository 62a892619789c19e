/*
Package ipc carries the storage service protocol over a Unix socket.

Each connection holds one CBOR request and one CBOR response. The Server
wraps any types.Service; the Client implements types.Service itself, so a
device can run against a storage service in another process:

	srv := ipc.NewServer("/run/sdmcfs.sock", hostService, logger)
	go srv.Serve(ctx)

	dev := sdmc.New(ipc.NewClient("/run/sdmcfs.sock"), sdmc.Config{})

Storage service result codes cross the socket as numbers and come back as
types.Result errors. Reads and writes larger than one transfer are split by
the client.
*/
package ipc
