package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ghermez/ariabridge/apitypes"
	"github.com/ghermez/ariabridge/internal/controller"
	"github.com/ghermez/ariabridge/internal/events"
	"github.com/ghermez/ariabridge/internal/rpc"
	"github.com/ghermez/ariabridge/internal/speedlimit"
)

var (
	errNoResponse  = errors.New("aria2 did not respond")
	errUnavailable = errors.New("aria2 request failed, see the log for details")
)

// newController builds a controller for one CLI invocation. Completed
// downloads are not relocated from the command line.
func (o *rootOptions) newController(extra ...controller.Option) *controller.Controller {
	gateway := rpc.NewGateway(
		rpc.NewEndpoint(o.rpcAddr()),
		rpc.WithLogger(log.With().Str("component", "rpc").Logger()),
		rpc.WithSecret(o.cfg.Daemon.Secret),
		rpc.WithTimeout(o.cfg.Daemon.RPCTimeout),
	)

	opts := []controller.Option{
		controller.WithLogger(log.With().Str("component", "controller").Logger()),
		controller.WithWorkDir(o.cfg.Downloads.WorkPath),
	}
	return controller.New(gateway, append(opts, extra...)...)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newVersionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the aria2 daemon version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := opts.newController().Version(commandContext(cmd))
			fmt.Fprintln(cmd.OutOrStdout(), v)
			if v == controller.SentinelNoResponse {
				return errNoResponse
			}
			return nil
		},
	}
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gids, tasks, ok := opts.newController().ListActive(commandContext(cmd))
			if !ok {
				return errUnavailable
			}
			return writeDownloads(cmd.OutOrStdout(), format, apitypes.DownloadList{GIDs: gids, Downloads: tasks})
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "output format (table, json, yaml)")
	return cmd
}

func newGIDsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gids",
		Short: "Print the gids of active downloads, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, gid := range opts.newController().ListActiveGIDs(commandContext(cmd)) {
				fmt.Fprintln(cmd.OutOrStdout(), gid)
			}
			return nil
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status <gid>",
		Short: "Show one download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, ok := opts.newController().Status(commandContext(cmd), args[0])
			if !ok {
				return errUnavailable
			}
			return writeTask(cmd.OutOrStdout(), format, task)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "output format (table, json, yaml)")
	return cmd
}

func newAddCommand(opts *rootOptions) *cobra.Command {
	var add controller.AddOptions

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Start a download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if add.Limit != "" {
				if _, err := speedlimit.Normalize(add.Limit); err != nil {
					return err
				}
			}
			gid, ok := opts.newController().Add(commandContext(cmd), args[0], add)
			if !ok {
				return errUnavailable
			}
			fmt.Fprintln(cmd.OutOrStdout(), gid)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&add.Dir, "dir", "", "download directory (default is the work path)")
	flags.StringVar(&add.Out, "out", "", "file name to save as")
	flags.StringArrayVarP(&add.Headers, "header", "H", nil, `extra request header "Name: value", repeatable`)
	flags.StringVar(&add.Cookies, "cookies", "", "cookies sent with the request")
	flags.StringVar(&add.UserAgent, "user-agent", "", "user agent")
	flags.StringVar(&add.Referer, "referer", "", "referer")
	flags.IntVar(&add.Connections, "connections", 0, "max connections per server")
	flags.StringVar(&add.Limit, "limit", "", `speed limit, e.g. "5M" or "100K"`)
	flags.StringVar(&add.Proxy, "proxy", "", "proxy host:port")
	flags.StringVar(&add.ProxyUser, "proxy-user", "", "proxy user")
	flags.StringVar(&add.ProxyPassword, "proxy-password", "", "proxy password")
	flags.StringVar(&add.HTTPUser, "http-user", "", "HTTP user")
	flags.StringVar(&add.HTTPPassword, "http-password", "", "HTTP password")

	return cmd
}

func newPauseCommand(opts *rootOptions) *cobra.Command {
	return newControlCommand("pause", "Pause a download", func(c *controller.Controller) controlFunc { return c.Pause }, opts)
}

func newResumeCommand(opts *rootOptions) *cobra.Command {
	return newControlCommand("resume", "Resume a paused download", func(c *controller.Controller) controlFunc { return c.Resume }, opts)
}

func newRemoveCommand(opts *rootOptions) *cobra.Command {
	return newControlCommand("remove", "Remove a download", func(c *controller.Controller) controlFunc { return c.Remove }, opts)
}

type controlFunc func(ctx context.Context, gid string) (string, bool)

func newControlCommand(name, short string, op func(*controller.Controller) controlFunc, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <gid>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, ok := op(opts.newController())(commandContext(cmd), args[0])
			if !ok {
				return errUnavailable
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

func newLimitCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "limit <gid> <limit>",
		Short: `Set the speed limit of a download, e.g. "5M", "100K" or "0"`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := speedlimit.Normalize(args[1])
			if err != nil {
				return err
			}

			// SetSpeedLimit only logs its outcome; the bus tells us how it went.
			bus := events.New()
			defer bus.Close()
			sub := bus.Subscribe(events.SpeedLimitChanged, events.OperationFailed)

			opts.newController(controller.WithEvents(bus)).SetSpeedLimit(commandContext(cmd), args[0], limit)

			select {
			case ev := <-sub:
				if ev.Type == events.OperationFailed {
					return errUnavailable
				}
			default:
				return errUnavailable
			}

			fmt.Fprintln(cmd.OutOrStdout(), limit)
			return nil
		},
	}
}

func newShutdownCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Ask the aria2 daemon to exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !opts.newController().Shutdown(commandContext(cmd)) {
				return errUnavailable
			}
			fmt.Fprintln(cmd.OutOrStdout(), controller.OK)
			return nil
		},
	}
}

func newDestinationCommand(opts *rootOptions) *cobra.Command {
	var (
		base      string
		subfolder bool
	)

	cmd := &cobra.Command{
		Use:   "destination <file>",
		Short: "Print the folder a completed file would be moved to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("base") {
				base = opts.cfg.Downloads.Path
			}
			if !cmd.Flags().Changed("subfolder") {
				subfolder = opts.cfg.Downloads.Subfolder
			}
			fmt.Fprintln(cmd.OutOrStdout(), opts.newController().FindDestinationFolder(args[0], base, subfolder))
			return nil
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "destination root (default is downloads.path)")
	cmd.Flags().BoolVar(&subfolder, "subfolder", true, "sort into category folders (default is downloads.subfolder)")
	return cmd
}
