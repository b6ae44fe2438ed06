package jobcmd

import (
	"fmt"
	"strconv"

	subnet "github.com/Parig0t/compute-subnet-1"
	"github.com/Parig0t/compute-subnet-1/cmd/validator/cmdutil"
	"github.com/Parig0t/compute-subnet-1/cmd/validator/ui"

	"github.com/spf13/cobra"
)

func Cmd(opts *cmdutil.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Submit workloads to miners",
	}
	cmd.AddCommand(submitCmd(opts))
	return cmd
}

func submitCmd(opts *cmdutil.Options) *cobra.Command {
	var (
		tf       cmdutil.TargetFlags
		duration string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Run a workload on a miner and record its machine specs",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := subnet.SubmitWorkload{Target: tf.Target(), DurationClass: duration}
			out, err := opts.Run(cmdutil.Context(cmd), req)
			if err != nil {
				return err
			}
			if out.Workload == nil {
				return nil
			}

			s := out.Workload.Specs
			fmt.Println(ui.KeyValues("  ",
				ui.KV("hostname", s.Hostname),
				ui.KV("os", s.OS),
				ui.KV("cpus", strconv.Itoa(s.CPUCount)),
				ui.KV("memory", fmt.Sprintf("%d MB", s.MemoryMB)),
				ui.KV("disk", fmt.Sprintf("%d GB", s.DiskGB)),
				ui.KV("gpus", strconv.Itoa(len(s.GPUs))),
			))
			return nil
		},
	}

	tf.Bind(cmd)
	cmd.Flags().StringVar(&duration, "duration", subnet.DurationShort, "Duration class (short, medium, long)")
	return cmd
}
