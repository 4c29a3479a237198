package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/crossforge/crossforge/internal"
)

// Represents the root command for the crossforge CLI.
var RootCmd struct {
	Quiet     bool       `short:"q" help:"Suppress informational output."`
	Verbose   bool       `short:"v" help:"Enable verbose output."`
	Debug     bool       `short:"d" help:"Enable debug output."`
	Address   string     `help:"Override the containerd socket address." placeholder:"PATH"`
	Namespace string     `help:"Override the containerd namespace." placeholder:"NAME"`
	Build     BuildCmd   `cmd:"" help:"Build every declared target and collect the artifacts."`
	Targets   TargetsCmd `cmd:"" help:"List the declared targets."`
	Version   VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Multi-target native build orchestrator.\n\nBuilds one binary per declared target, each inside its own container environment, and collects the artifacts into a single output directory."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Configures the global logger based on CLI flags.
//
// The final modes are stored back so the package-level accessors reflect
// flag overrides for the rest of the run.
func configureLogger() {
	debug := RootCmd.Debug || internal.IsDebug()
	quiet := RootCmd.Quiet || internal.IsQuiet()
	verbose := RootCmd.Verbose || internal.IsVerbose()

	internal.SetDebug(debug)
	internal.SetQuiet(quiet)
	internal.SetVerbose(verbose)

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	} else if quiet {
		level = slog.LevelWarn
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	})))
}
