package containercmd

import (
	subnet "github.com/Parig0t/compute-subnet-1"
	"github.com/Parig0t/compute-subnet-1/cmd/validator/cmdutil"

	"github.com/spf13/cobra"
)

func Cmd(opts *cmdutil.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "container",
		Aliases: []string{"ctr"},
		Short:   "Manage containers on a miner",
	}
	cmd.AddCommand(createCmd(opts))
	cmd.AddCommand(refCmd(opts, "start", "Start a container", func(t subnet.Target, name, _ string) subnet.ActionRequest {
		return subnet.StartContainer{Target: t, ContainerName: name}
	}))
	cmd.AddCommand(refCmd(opts, "stop", "Stop a container", func(t subnet.Target, name, _ string) subnet.ActionRequest {
		return subnet.StopContainer{Target: t, ContainerName: name}
	}))
	cmd.AddCommand(refCmd(opts, "delete", "Remove a container and optionally its volume", func(t subnet.Target, name, volume string) subnet.ActionRequest {
		return subnet.DeleteContainer{Target: t, ContainerName: name, VolumeName: volume}
	}))
	return cmd
}

type specFlags struct {
	Image  string
	Cmd    []string
	Env    []string
	Ports  []string
	Volume string
	GPUs   bool
}

func (f *specFlags) Bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Image, "image", "", "Image reference")
	cmd.Flags().StringArrayVar(&f.Cmd, "cmd", nil, "Command argument (repeatable)")
	cmd.Flags().StringArrayVarP(&f.Env, "env", "e", nil, "Environment variable KEY=VALUE (repeatable)")
	cmd.Flags().StringArrayVarP(&f.Ports, "publish", "p", nil, "Port mapping [host:]container[/proto] (repeatable)")
	cmd.Flags().StringVar(&f.Volume, "volume", "", "Named volume mounted at /data")
	cmd.Flags().BoolVar(&f.GPUs, "gpus", false, "Expose all GPUs")
	_ = cmd.MarkFlagRequired("image")
}

func (f *specFlags) Spec(name string) (subnet.ContainerSpec, error) {
	env, err := cmdutil.ParseEnv(f.Env)
	if err != nil {
		return subnet.ContainerSpec{}, err
	}
	ports, err := cmdutil.ParsePorts(f.Ports)
	if err != nil {
		return subnet.ContainerSpec{}, err
	}
	return subnet.ContainerSpec{
		Name:       name,
		Image:      f.Image,
		Cmd:        f.Cmd,
		Env:        env,
		Ports:      ports,
		VolumeName: f.Volume,
		GPUs:       f.GPUs,
	}, nil
}

func createCmd(opts *cmdutil.Options) *cobra.Command {
	var (
		tf cmdutil.TargetFlags
		sf specFlags
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create and start a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := sf.Spec(args[0])
			if err != nil {
				return err
			}
			_, err = opts.Run(cmdutil.Context(cmd), subnet.CreateContainer{Target: tf.Target(), Spec: spec})
			return err
		},
	}

	tf.Bind(cmd)
	sf.Bind(cmd)
	return cmd
}

func refCmd(opts *cmdutil.Options, use, short string, build func(t subnet.Target, name, volume string) subnet.ActionRequest) *cobra.Command {
	var (
		tf     cmdutil.TargetFlags
		volume string
	)

	cmd := &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := opts.Run(cmdutil.Context(cmd), build(tf.Target(), args[0], volume))
			return err
		},
	}

	tf.Bind(cmd)
	if use == "delete" {
		cmd.Flags().StringVar(&volume, "volume", "", "Named volume to remove with the container")
	}
	return cmd
}
