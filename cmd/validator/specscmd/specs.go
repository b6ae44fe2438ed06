package specscmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Parig0t/compute-subnet-1/cmd/validator/cmdutil"
	"github.com/Parig0t/compute-subnet-1/cmd/validator/ui"
	"github.com/Parig0t/compute-subnet-1/internal/adapter/sqlite"

	"github.com/spf13/cobra"
)

func Cmd(opts *cmdutil.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "specs",
		Short: "Inspect recorded machine specs",
	}
	cmd.AddCommand(listCmd(opts))
	return cmd
}

func listCmd(opts *cmdutil.Options) *cobra.Command {
	var (
		peerID string
		limit  int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List machine specs collected from workloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			store, err := sqlite.Open(cfg.StorePath())
			if err != nil {
				return err
			}
			defer store.Close()

			descs, err := store.ListSpecs(cmdutil.Context(cmd), peerID, limit)
			if err != nil {
				return err
			}
			if len(descs) == 0 {
				fmt.Println(ui.Muted("no machine specs recorded"))
				return nil
			}

			rows := make([][]string, len(descs))
			for i, d := range descs {
				rows[i] = []string{
					d.PeerID,
					d.MinerAddress,
					d.Specs.Hostname,
					strconv.Itoa(d.Specs.CPUCount),
					strconv.FormatInt(d.Specs.MemoryMB, 10),
					strconv.Itoa(len(d.Specs.GPUs)),
					d.CollectedAt.Local().Format(time.DateTime),
				}
			}
			fmt.Println(ui.Table(
				[]string{"Peer", "Address", "Hostname", "CPUs", "Memory MB", "GPUs", "Collected"},
				rows,
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&peerID, "peer-id", "", "Only show this miner")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	return cmd
}
