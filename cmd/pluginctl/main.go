// Command pluginctl inspects and reconciles the plugins under a plugin root
// against the installed-plugin registry.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"pluginhost/internal/config"
	"pluginhost/internal/core"
	"pluginhost/internal/manifest"
	"pluginhost/pkg/domain"
)

var exitFunc = os.Exit

// errUpgradesPending is returned by check-upgrade when any plugin needs an
// upgrade.
var errUpgradesPending = errors.New("plugin upgrades pending")

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	p := &program{getenv: os.Getenv}
	return p.run(context.Background(), args, stdout, stderr)
}

type rootOptions struct {
	pluginRoot   string
	manifestFile string
	registry     string
	timeout      time.Duration
	trace        bool
	metricsFile  string
}

// program holds the state shared by every subcommand for one invocation.
type program struct {
	getenv func(string) string
	opts   rootOptions

	cfg      config.Config
	logger   *slog.Logger
	registry domain.Registry
	manager  *core.Manager
	gatherer prometheus.Gatherer
}

func (p *program) run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(p)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if cerr := p.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		if _, writeErr := fmt.Fprintf(stderr, "Error: %v\n", err); writeErr != nil {
			return 1
		}
		return 1
	}
	return 0
}

func newRootCmd(p *program) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pluginctl",
		Short:         "Inspect and reconcile installed plugins",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return p.setup(cmd)
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&p.opts.pluginRoot, "plugin-root", "", "plugin root directory (default from "+config.EnvServerRoot+"/"+config.EnvPluginDir+")")
	flags.StringVar(&p.opts.manifestFile, "manifest-file", "", "manifest file name inside each plugin directory")
	flags.StringVar(&p.opts.registry, "registry", "", "registry driver (memory, sqlite, postgres, blob)")
	flags.DurationVar(&p.opts.timeout, "timeout", 0, "deadline applied to every plugin operation")
	flags.BoolVar(&p.opts.trace, "trace", false, "write one JSON span per operation to stderr")
	flags.StringVar(&p.opts.metricsFile, "metrics-textfile", "", "write prometheus metrics to this file on exit")
	registerLoggingFlags(flags)

	cmd.AddCommand(
		newTypesCmd(p),
		newGetCmd(p),
		newStateCmd(p),
		newInstallCmd(p),
		newUninstallCmd(p),
		newListCmd(p),
		newCheckUpgradeCmd(p),
	)
	return cmd
}

// setup resolves configuration, with flags taking precedence over the
// environment, and opens the registry.
func (p *program) setup(cmd *cobra.Command) error {
	logger, err := baseLogger(cmd)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	p.logger = logger

	cfg, err := config.Load(p.getenv)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("plugin-root") {
		root, err := filepath.Abs(p.opts.pluginRoot)
		if err != nil {
			return fmt.Errorf("resolve plugin root: %w", err)
		}
		cfg.PluginRoot = root
	}
	if flags.Changed("manifest-file") {
		cfg.ManifestFile = p.opts.manifestFile
	}
	if flags.Changed("registry") {
		cfg.RegistryDriver = config.RegistryDriver(strings.ToLower(p.opts.registry))
	}
	if flags.Changed("timeout") {
		cfg.Timeout = p.opts.timeout
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.cfg = cfg

	registry, err := core.OpenRegistry(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	p.registry = registry

	opts := []core.Option{core.WithLogger(logger), core.WithTimeout(cfg.Timeout)}
	if p.opts.trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(cmd.ErrOrStderr())))
	}
	if p.opts.metricsFile != "" {
		reg := prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return err
		}
		p.gatherer = reg
		opts = append(opts, core.WithMetricsRecorder(rec))
	}
	scanner := core.NewScanner(cfg, manifest.WithLogger(logger))
	p.manager = core.NewManager(scanner, registry, opts...)
	logger.Debug("pluginctl configured",
		slog.String("plugin_root", cfg.PluginRoot),
		slog.String("registry", string(cfg.RegistryDriver)))
	return nil
}

func (p *program) close() error {
	var errs []error
	if p.gatherer != nil && p.opts.metricsFile != "" {
		if err := prometheus.WriteToTextfile(p.opts.metricsFile, p.gatherer); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if p.registry != nil {
		if err := p.registry.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close registry: %w", err))
		}
		p.registry = nil
	}
	return errors.Join(errs...)
}
