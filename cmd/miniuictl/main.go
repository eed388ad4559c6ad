// Command miniuictl calls the miniui agent from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"hackohio/miniui/internal/config"
	"hackohio/miniui/internal/dispatch"
	"hackohio/miniui/internal/service"
)

type options struct {
	socket  string
	timeout time.Duration
	json    bool
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "miniuictl",
		Short:         "Call the miniui management agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	pf := root.PersistentFlags()
	pf.StringVar(&opts.socket, "socket", config.Default().Socket, "agent unix socket")
	pf.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "per-call timeout")
	pf.BoolVar(&opts.json, "json", false, "print the raw reply as JSON")

	root.AddCommand(
		statusCmd(opts),
		applyLANCmd(opts),
		reloadNetworkCmd(opts),
		sysupgradeCmd(opts),
	)
	return root
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reply, err := call(cmd.Context(), opts, dispatch.MethodStatus, nil)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), reply)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), formatStatus(reply))
			return err
		},
	}
}

func applyLANCmd(opts *options) *cobra.Command {
	var ipaddr, netmask string
	cmd := &cobra.Command{
		Use:   "apply-lan",
		Short: "Apply a new LAN address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fields := map[string]any{"ipaddr": ipaddr}
			if cmd.Flags().Changed("netmask") {
				fields["netmask"] = netmask
			}
			return callAndPrint(cmd, opts, dispatch.MethodApplyLAN, fields)
		},
	}
	cmd.Flags().StringVar(&ipaddr, "ipaddr", "", "LAN IP address")
	cmd.Flags().StringVar(&netmask, "netmask", "", "LAN netmask")
	_ = cmd.MarkFlagRequired("ipaddr")
	return cmd
}

func reloadNetworkCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reload-network",
		Short: "Reload the network configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return callAndPrint(cmd, opts, dispatch.MethodReloadNetwork, nil)
		},
	}
}

func sysupgradeCmd(opts *options) *cobra.Command {
	var source string
	var keep bool
	cmd := &cobra.Command{
		Use:   "sysupgrade",
		Short: "Start a firmware upgrade",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fields := map[string]any{"source": source, "keep": keep}
			return callAndPrint(cmd, opts, dispatch.MethodSysupgrade, fields)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "image URL (http/https) or file under /tmp/")
	cmd.Flags().BoolVar(&keep, "keep", true, "keep settings across the upgrade")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func callAndPrint(cmd *cobra.Command, opts *options, method string, fields map[string]any) error {
	reply, err := call(cmd.Context(), opts, method, fields)
	if err != nil {
		return err
	}
	if opts.json {
		return printJSON(cmd.OutOrStdout(), reply)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", method, reply["status"])
	return err
}

func call(ctx context.Context, opts *options, method string, fields map[string]any) (map[string]any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := service.Dial(opts.socket)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.socket, err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	reply, err := client.Call(ctx, method, fields)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return reply, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
