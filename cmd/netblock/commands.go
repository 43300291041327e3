package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/haukened/adobe-netblock/internal/netblock/common/log"
	"github.com/haukened/adobe-netblock/internal/netblock/config"
	"github.com/haukened/adobe-netblock/internal/netblock/domain"
	"github.com/haukened/adobe-netblock/internal/netblock/services/updater"
)

// flagKeys maps command-line flags onto config keys. Only flags the user set
// override the file and environment layers.
var flagKeys = map[string]string{
	"hosts":            "hosts.path",
	"lock":             "hosts.lock",
	"log-level":        "log.level",
	"timeout":          "fetch.timeout",
	"source":           "source.preferred",
	"sink":             "sink.default",
	"force-sink":       "sink.force",
	"listen":           "api.listen",
	"token":            "api.token",
	"metrics-textfile": "metrics.textfile",
}

// cli carries state shared by the commands of one invocation.
type cli struct {
	configFile string
	format     string
	out        io.Writer
	errOut     io.Writer
	build      buildOptions

	app *Application
}

func (c *cli) printer() printer {
	return printer{format: c.format, out: c.out, errOut: c.errOut}
}

func overrides(fs *pflag.FlagSet) map[string]any {
	m := map[string]any{}
	fs.Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			m[key] = f.Value.String()
		}
	})
	return m
}

// setup loads configuration, configures logging and wires the application.
func (c *cli) setup(cmd *cobra.Command, runtime bool) error {
	if !validFormat(c.format) {
		return usage(fmt.Errorf("unsupported output format %q (want text, json or yaml)", c.format))
	}
	cfg, err := config.Load(config.Options{File: c.configFile, Overrides: overrides(cmd.Flags())})
	if err != nil {
		return usage(fmt.Errorf("configuration error: %w", err))
	}
	if err := log.Configure(cfg.Env, cfg.Log.Level); err != nil {
		return usage(fmt.Errorf("logging configuration error: %w", err))
	}
	opts := c.build
	opts.Runtime = runtime
	app, err := buildApplication(cfg, opts)
	if err != nil {
		return err
	}
	c.app = app
	return nil
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "netblock",
		Short:         "Keep the Adobe block list in the system hosts file up to date",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "version", "help":
				return nil
			}
			return c.setup(cmd, cmd.Name() == "serve")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usage(err) })

	pf := root.PersistentFlags()
	pf.StringVarP(&c.configFile, "config", "c", "", "YAML config file (default $"+config.ConfigFileEnv+")")
	pf.StringVarP(&c.format, "output", "o", formatText, "output format: text, json or yaml")
	pf.String("hosts", "", "hosts file path (default OS hosts file)")
	pf.String("lock", "", "update lock file path")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("timeout", "", "per-attempt fetch timeout, e.g. 8s")
	pf.String("metrics-textfile", "", "write metrics to this node_exporter textfile after each run")

	root.AddCommand(
		newUpdateCmd(c),
		newRemoveCmd(c),
		newStatusCmd(c),
		newSourcesCmd(c),
		newSourceDateCmd(c),
		newCheckCmd(c),
		newServeCmd(c),
		newVersionCmd(c),
	)
	return root
}

func newUpdateCmd(c *cli) *cobra.Command {
	var only, dryRun bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Fetch the block list and rewrite the managed hosts block",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			preferred := c.app.config.Source.PreferredID()
			if only && preferred == "" {
				return usage(errors.New("--only requires --source"))
			}
			res := c.app.service.Update(cmd.Context(), updater.UpdateOptions{
				Preferred: preferred,
				Only:      only,
				DryRun:    dryRun,
			})
			return finish(c, updater.OpUpdate, res)
		},
	}
	f := cmd.Flags()
	f.String("source", "", "preferred mirror id (see 'netblock sources')")
	f.BoolVar(&only, "only", false, "use only --source, without fallback")
	f.BoolVar(&dryRun, "dry-run", false, "report what would change without writing")
	f.String("sink", "", "address for entries without one (default 0.0.0.0)")
	f.String("force-sink", "", "replace every entry's address")
	return cmd
}

func newRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Remove the managed block from the hosts file",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return finish(c, updater.OpRemove, c.app.service.Remove(cmd.Context()))
		},
	}
}

func finish(c *cli, op string, res domain.UpdateResult) error {
	defer c.app.ExportMetrics()
	if err := c.printer().result(op, res); err != nil {
		return err
	}
	if !res.Success {
		return &resultError{res: res}
	}
	return nil
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the block is active",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer c.app.ExportMetrics()
			st, err := c.app.service.QueryStatus()
			if err != nil {
				return err
			}
			return c.printer().status(st)
		},
	}
}

func newSourcesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List mirrors in fallback order",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.printer().sources(c.app.service.Sources())
		},
	}
}

func newSourceDateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source-date",
		Short: "Print the upstream list's last update date",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			date, used, err := c.app.service.SourceDate(cmd.Context(), c.app.config.Source.PreferredID())
			if err != nil {
				return err
			}
			return c.printer().sourceDate(sourceDateView{SourceUpdated: date, SourceUsed: used})
		},
	}
	cmd.Flags().String("source", "", "preferred mirror id")
	return cmd
}

func newCheckCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check <domain>",
		Short: "Report whether a domain is blocked by the managed block",
		Args: func(cmd *cobra.Command, args []string) error {
			return usage(cobra.ExactArgs(1)(cmd, args))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := c.app.service.Check(args[0])
			if err != nil {
				return err
			}
			return c.printer().decision(d)
		},
	}
}

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and metrics",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer c.app.ExportMetrics()
			return c.app.Serve(cmd.Context(), nil)
		},
	}
	cmd.Flags().String("listen", "", "listen address (default 127.0.0.1:8053)")
	cmd.Flags().String("token", "", "bearer token required for update and remove")
	return cmd
}

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(c.out, "%s %s\n", appName, version)
			return nil
		},
	}
}

func noArgs(cmd *cobra.Command, args []string) error {
	return usage(cobra.NoArgs(cmd, args))
}
