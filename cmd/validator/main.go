package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Parig0t/compute-subnet-1/cmd/validator/cmdutil"
	"github.com/Parig0t/compute-subnet-1/cmd/validator/containercmd"
	"github.com/Parig0t/compute-subnet-1/cmd/validator/identitycmd"
	"github.com/Parig0t/compute-subnet-1/cmd/validator/jobcmd"
	"github.com/Parig0t/compute-subnet-1/cmd/validator/specscmd"
	"github.com/Parig0t/compute-subnet-1/cmd/validator/ui"
	"github.com/Parig0t/compute-subnet-1/internal/logging"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	var opts cmdutil.Options
	root := &cobra.Command{
		Use:           "validator",
		Short:         "Lease compute from subnet miners",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.ConfigureColor(opts.NoColor)
			if opts.Debug {
				return logging.Configure(logging.LevelDebug)
			}
			return nil
		},
	}
	opts.Bind(root)

	root.AddCommand(identitycmd.Cmd(&opts))
	root.AddCommand(jobcmd.Cmd(&opts))
	root.AddCommand(containercmd.Cmd(&opts))
	root.AddCommand(specscmd.Cmd(&opts))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
