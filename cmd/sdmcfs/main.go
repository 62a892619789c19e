// sdmcfs exposes an SD card archive held by a storage service as a POSIX
// filesystem.
//
// The storage service is a host directory, an S3 bucket, or another sdmcfs
// process serving one of those on a Unix socket. The device can be mounted
// through FUSE or queried directly with the df, ls and mtime commands.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/objectfs/sdmcfs/internal/adapter"
	"github.com/objectfs/sdmcfs/internal/config"
	"github.com/objectfs/sdmcfs/pkg/errors"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		var sdErr *errors.SDMCError
		if stderrors.As(err, &sdErr) && sdErr.UserFacing {
			fmt.Fprintf(os.Stderr, "error: %v\nhint: %s\n", err, sdErr.GetRecommendation())
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// command is one sdmcfs subcommand. minArgs and maxArgs count positional
// arguments after the storage URI.
type command struct {
	name    string
	usage   string
	summary string
	minArgs int
	maxArgs int
	run     func(ctx context.Context, env *environment, args []string) error
}

var commands = []command{
	{name: "serve", usage: "serve [flags] <storage-uri>", summary: "expose the storage service on a Unix socket", run: runServe},
	{name: "mount", usage: "mount [flags] <storage-uri> <mount-point>", summary: "mount the device with FUSE", minArgs: 1, maxArgs: 1, run: runMount},
	{name: "df", usage: "df [flags] <storage-uri> [path]", summary: "report archive capacity and free space", maxArgs: 1, run: runDf},
	{name: "ls", usage: "ls [flags] <storage-uri> [path]", summary: "list a directory", maxArgs: 1, run: runLs},
	{name: "mtime", usage: "mtime [flags] <storage-uri> <path>", summary: "print a file's modification time", minArgs: 1, maxArgs: 1, run: runMtime},
}

// environment carries what every command needs once flags are parsed
type environment struct {
	config *config.Configuration
	stdout io.Writer
}

// options are the flags shared by every command
type options struct {
	configFile     string
	logLevel       string
	logFormat      string
	metricsAddress string
	unsafeWrite    bool
	readOnly       bool
	allowOther     bool
	debug          bool
	socketPath     string
}

func (o *options) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&o.configFile, "config", "c", "", "path to a YAML configuration file")
	flagSet.StringVar(&o.logLevel, "log-level", "", "log level: DEBUG, INFO, WARN or ERROR")
	flagSet.StringVar(&o.logFormat, "log-format", "", "log format: text or json")
	flagSet.StringVar(&o.metricsAddress, "metrics-address", "", "serve Prometheus metrics on this address")
	flagSet.BoolVar(&o.unsafeWrite, "unsafe-write", false, "write directly from caller buffers instead of staging")
	flagSet.BoolVar(&o.readOnly, "read-only", false, "mount read-only")
	flagSet.BoolVar(&o.allowOther, "allow-other", false, "allow other users to access the mount")
	flagSet.BoolVar(&o.debug, "fuse-debug", false, "log every FUSE request")
	flagSet.StringVar(&o.socketPath, "socket", "", "socket path for serve (default from config)")
	flagSet.BoolP("help", "h", false, "show help")
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage(stdout)
		return nil
	}

	cmd, ok := findCommand(args[0])
	if !ok {
		printUsage(stdout)
		return errors.NewError(errors.ErrCodeValidationFailed, fmt.Sprintf("unknown command %q", args[0]))
	}

	var opts options
	flagSet := pflag.NewFlagSet("sdmcfs "+cmd.name, pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	opts.addFlags(flagSet)
	if err := flagSet.Parse(args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printCommandHelp(stdout, cmd, flagSet)
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeValidationFailed, "invalid flags")
	}
	if help, _ := flagSet.GetBool("help"); help {
		printCommandHelp(stdout, cmd, flagSet)
		return nil
	}

	positional := flagSet.Args()
	if len(positional) < 1+cmd.minArgs || len(positional) > 1+cmd.maxArgs {
		return errors.NewError(errors.ErrCodeValidationFailed, "usage: sdmcfs "+cmd.usage)
	}

	cfg, err := loadConfig(&opts, positional[0])
	if err != nil {
		return err
	}
	logger, closer, err := cfg.SetupLogging()
	if err != nil {
		return err
	}
	defer closer.Close()
	logger.Debug("configuration loaded", "command", cmd.name, "backend", cfg.Backend.Kind)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return cmd.run(ctx, &environment{config: cfg, stdout: stdout}, positional[1:])
}

// loadConfig layers defaults, the configuration file, the environment,
// the storage URI and the command-line flags, then validates the result
func loadConfig(opts *options, storageURI string) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if opts.configFile != "" {
		if err := cfg.LoadFromFile(opts.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := adapter.ApplyStorageURI(cfg, storageURI); err != nil {
		return nil, err
	}

	if opts.logLevel != "" {
		cfg.Global.LogLevel = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Global.LogFormat = opts.logFormat
	}
	if opts.metricsAddress != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = opts.metricsAddress
	}
	if opts.unsafeWrite {
		cfg.Device.SafeWrite = false
	}
	if opts.readOnly {
		cfg.Mount.ReadOnly = true
	}
	if opts.allowOther {
		cfg.Mount.AllowOther = true
	}
	if opts.debug {
		cfg.Mount.Debug = true
	}
	if opts.socketPath != "" {
		cfg.Server.SocketPath = opts.socketPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findCommand(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `sdmcfs - SD card archive filesystem

USAGE
    sdmcfs <command> [flags] <storage-uri> [args]

COMMANDS
`)
	for _, cmd := range commands {
		fmt.Fprintf(w, "    %-7s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprint(w, `
STORAGE URIS
    ./sdcard, file:///srv/sdcard    host directory
    s3://bucket/prefix              S3 bucket
    unix:///run/sdmcfs/fs.sock      another sdmcfs serve process

Run "sdmcfs <command> --help" for the flags of a command.
`)
}

func printCommandHelp(w io.Writer, cmd command, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "sdmcfs %s - %s\n\nUSAGE\n    sdmcfs %s\n\nFLAGS\n%s", cmd.name, cmd.summary, cmd.usage, flagSet.FlagUsages())
}
