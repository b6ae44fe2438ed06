package identitycmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/Parig0t/compute-subnet-1/cmd/validator/cmdutil"
	"github.com/Parig0t/compute-subnet-1/cmd/validator/ui"
	"github.com/Parig0t/compute-subnet-1/internal/identity"

	"github.com/spf13/cobra"
)

func Cmd(opts *cmdutil.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage the validator signing identity",
	}
	cmd.AddCommand(initCmd(opts))
	cmd.AddCommand(showCmd(opts))
	return cmd
}

func initCmd(opts *cmdutil.Options) *cobra.Command {
	var (
		name  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a new identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.IdentityPath); err == nil && !force {
				return fmt.Errorf("identity already exists at %s (use --force to replace it)", cfg.IdentityPath)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("check identity: %w", err)
			}

			id, err := identity.Generate(name)
			if err != nil {
				return err
			}
			if err := identity.Save(cfg.IdentityPath, id); err != nil {
				return err
			}

			fmt.Println(ui.SuccessMsg("identity written to %s", cfg.IdentityPath))
			fmt.Println(ui.KeyValues("  ", ui.KV("name", id.Name), ui.KV("address", id.Address())))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "validator", "Identity name")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing identity")
	return cmd
}

func showCmd(opts *cmdutil.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the identity address",
		RunE: func(cmd *cobra.Command, args []string) error {
			kr, err := opts.LoadIdentity()
			if err != nil {
				return err
			}
			id, err := kr.CurrentIdentity()
			if err != nil {
				return err
			}
			fmt.Println(ui.KeyValues("", ui.KV("name", id.Name), ui.KV("address", id.Address())))
			return nil
		},
	}
}
