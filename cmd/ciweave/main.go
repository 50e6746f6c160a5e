// cmd/ciweave/main.go
//
// Entry point for the ciweave CLI. Every subcommand follows the same flow:
// load the project config, apply flag overrides, build the logger and the
// matcher registry (built-ins plus plugins), then hand off to the
// orchestrator. Errors are mapped to exit codes in exit.go.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/kingrea/ciweave/internal/config"
	"github.com/kingrea/ciweave/internal/failure"
	"github.com/kingrea/ciweave/internal/logging"
	"github.com/kingrea/ciweave/internal/orchestrator"
	"github.com/kingrea/ciweave/internal/shell"
	"github.com/kingrea/ciweave/plugins"
)

var version = "0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// app carries the global flags and the terminal streams shared by every
// subcommand.
type app struct {
	configPath string
	projectDir string
	verbose    bool
	quiet      bool
	pluginsDir string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return runContext(ctx, args, stdin, stdout, stderr)
}

// runContext executes the command tree. Cancelling ctx stops a batch after
// the files already in progress.
func runContext(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ciweave",
		Short: "Inline shell scripts into CI pipeline YAML and extract them back",
		Long: `ciweave compiles pipeline YAML whose script fields reference shell files
into self-contained YAML with the script bodies inlined. Compiled files are
fingerprinted so hand edits are detected instead of overwritten.

decompile performs the inverse: inline script blocks become script files
and the YAML references them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return failure.Wrap(failure.KindConfigInvalid, err)
	})
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Project config file (default .ciweave/config.yaml or ciweave.yaml)")
	flags.StringVar(&a.projectDir, "project", "", "Project directory (default: current directory)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Show debug output")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "Only show warnings and errors")
	flags.StringVar(&a.pluginsDir, "plugins", "", "Directory holding matcher plugin definitions")

	root.AddCommand(
		a.compileCommand(),
		a.decompileCommand(),
		a.detectDriftCommand(),
		a.cleanCommand(),
		a.lintCommand(),
		a.versionCommand(),
	)
	return root
}

// session is what a subcommand works with once setup succeeded.
type session struct {
	cfg   *config.Config
	log   *logging.Logger
	orch  *orchestrator.Orchestrator
	close func()
}

// setup loads the config, lets apply override settings from command flags,
// and wires the logger and matcher registry.
func (a *app) setup(apply func(*config.Config) error) (*session, error) {
	projectDir := a.projectDir
	if projectDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		projectDir = cwd
	}
	cfg, err := config.Load(projectDir, a.configPath)
	if err != nil {
		return nil, err
	}
	if a.verbose {
		cfg.Project.Verbose = true
		cfg.Project.Quiet = false
	}
	if a.quiet {
		cfg.Project.Quiet = true
		cfg.Project.Verbose = false
	}
	if a.pluginsDir != "" {
		if err := config.SetPath(&cfg.Project.PluginsDir, a.pluginsDir); err != nil {
			return nil, failure.Wrap(failure.KindConfigInvalid, err)
		}
	}
	if apply != nil {
		if err := apply(cfg); err != nil {
			return nil, failure.Wrap(failure.KindConfigInvalid, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []logging.Option{
		logging.WithConsole(a.stderr),
		logging.WithVerbosity(cfg.Project.Verbose, cfg.Project.Quiet),
	}
	var log *logging.Logger
	if cfg.Project.DryRun {
		// Dry runs leave the project untouched, log directory included.
		log = logging.NewConsole(a.stderr, opts...)
	} else {
		log, err = logging.New(cfg.ProjectDir, opts...)
		if err != nil {
			// A read-only project still compiles; only the log file is lost.
			log = logging.NewConsole(a.stderr, opts...)
			log.Debugf("file logging disabled: %v", err)
		}
	}
	log.Debugf("config: %s", describeSource(cfg))

	registry := shell.NewRegistry()
	added, err := plugins.RegisterMatcherPlugins(registry, cfg.PluginsDir(), log)
	if err != nil {
		log.Close()
		return nil, failure.Wrap(failure.KindConfigInvalid, err)
	}
	if added > 0 {
		log.Debugf("matchers: %v", registry.Names())
	}
	orch := orchestrator.New(cfg,
		orchestrator.WithResolver(registry.Resolver()),
		orchestrator.WithLogger(log),
	)
	return &session{
		cfg:   cfg,
		log:   log,
		orch:  orch,
		close: func() { _ = log.Close() },
	}, nil
}

func describeSource(cfg *config.Config) string {
	if cfg.SourcePath == "" {
		return "defaults (no project file)"
	}
	return cfg.SourcePath
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ciweave version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(a.stdout, "ciweave %s\n", version)
			return nil
		},
	}
}
