package cmdutil

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	subnet "github.com/Parig0t/compute-subnet-1"
	"github.com/Parig0t/compute-subnet-1/config"
	"github.com/Parig0t/compute-subnet-1/internal/identity"
	"github.com/Parig0t/compute-subnet-1/internal/logging"

	"github.com/spf13/cobra"
)

// Options are the root command's persistent flags.
type Options struct {
	ConfigPath string
	EnvFile    string
	Debug      bool
	NoColor    bool

	cfg    *config.Config
	logger *slog.Logger
}

func (o *Options) Bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&o.ConfigPath, "config", "", "Config file (default "+config.Path()+")")
	cmd.PersistentFlags().StringVar(&o.EnvFile, "env-file", ".env", "Environment file loaded before the config")
	cmd.PersistentFlags().BoolVar(&o.Debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&o.NoColor, "no-color", false, "Disable colored output")
}

// Config loads configuration once and configures logging from it.
func (o *Options) Config() (config.Config, error) {
	if o.cfg != nil {
		return *o.cfg, nil
	}
	if err := config.LoadDotEnv(o.EnvFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}

	level := cfg.LogLevel
	if o.Debug {
		level = logging.LevelDebug
	}
	if err := logging.Configure(level); err != nil {
		return config.Config{}, err
	}
	o.cfg = &cfg
	o.logger = slog.Default()
	return cfg, nil
}

// Logger returns the configured logger, or the default one before Config.
func (o *Options) Logger() *slog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return slog.Default()
}

// LoadIdentity reads the validator identity named by the config.
func (o *Options) LoadIdentity() (*identity.Keyring, error) {
	cfg, err := o.Config()
	if err != nil {
		return nil, err
	}
	kr, err := identity.LoadKeyring(cfg.IdentityPath)
	if err != nil {
		return nil, fmt.Errorf("%w (run `validator identity init` first)", err)
	}
	return kr, nil
}

// TargetFlags select the miner a command talks to.
type TargetFlags struct {
	Address string
	Port    int
	PeerID  string
}

func (f *TargetFlags) Bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Address, "address", "", "Miner address")
	cmd.Flags().IntVar(&f.Port, "port", 8000, "Miner port")
	cmd.Flags().StringVar(&f.PeerID, "peer-id", "", "Miner hotkey")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("peer-id")
}

func (f *TargetFlags) Target() subnet.Target {
	return subnet.Target{
		Address: strings.TrimSpace(f.Address),
		Port:    f.Port,
		PeerID:  strings.TrimSpace(f.PeerID),
	}
}

// ParsePorts parses "[host:]container[/proto]" mappings.
func ParsePorts(specs []string) ([]subnet.PortMapping, error) {
	out := make([]subnet.PortMapping, 0, len(specs))
	for _, raw := range specs {
		s := strings.TrimSpace(raw)
		var m subnet.PortMapping
		if base, proto, ok := strings.Cut(s, "/"); ok {
			s, m.Protocol = base, strings.ToLower(proto)
		}
		hostPart, containerPart, ok := strings.Cut(s, ":")
		if !ok {
			hostPart, containerPart = "", s
		}
		cp, err := strconv.Atoi(containerPart)
		if err != nil {
			return nil, fmt.Errorf("port %q: invalid container port", raw)
		}
		m.ContainerPort = cp
		if hostPart != "" {
			hp, err := strconv.Atoi(hostPart)
			if err != nil {
				return nil, fmt.Errorf("port %q: invalid host port", raw)
			}
			m.HostPort = hp
		}
		out = append(out, m)
	}
	return out, nil
}

// ParseEnv parses KEY=VALUE pairs.
func ParseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("env %q: want KEY=VALUE", p)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

// Context returns the command's context, never nil.
func Context(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
