package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/discovery"
)

func newDiscoverCommand() *cobra.Command {
	var (
		configPath string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List IPX800 bridges advertising on the local network",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			peers, err := discovery.Browse(cfg.Discovery.Service, timeout)
			if err != nil {
				return err
			}
			return writePeers(cmd.OutOrStdout(), peers)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default $"+configEnv+" or "+defaultConfigPath+")")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", discovery.DefaultBrowseTimeout, "how long to wait for answers")
	return cmd
}

func writePeers(w io.Writer, peers []discovery.Peer) error {
	if len(peers) == 0 {
		_, err := fmt.Fprintln(w, "no bridges found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tADDRESS\tVERSION\tAPI")
	for _, p := range peers {
		fmt.Fprintf(tw, "%s\t%s:%d\t%s\t%s\n", p.DeviceID, p.Addr, p.Port, p.Version, p.APIPath)
	}
	return tw.Flush()
}
