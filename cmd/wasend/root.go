package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"wasender/internal/config"
	"wasender/internal/gateway"
	logx "wasender/pkg/logx"
)

// EnvGatewayURL overrides the gateway base URL when no config file is given.
const EnvGatewayURL = "WASENDER_GATEWAY_URL"

type rootOptions struct {
	configPath string
	envPath    string
	baseURL    string
	username   string
	timeout    time.Duration
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "wasend",
		Short:         "Send WhatsApp messages and status updates through the gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(opts.envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", opts.envPath, err)
			}
			return nil
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "daemon config file to read the gateway section from")
	pf.StringVar(&opts.envPath, "env", ".env", "optional dotenv file")
	pf.StringVar(&opts.baseURL, "gateway", "", "gateway base URL (default $"+EnvGatewayURL+")")
	pf.StringVarP(&opts.username, "user", "u", "", "gateway basic auth user; the password comes from $"+config.EnvGatewayPassword)
	pf.DurationVar(&opts.timeout, "timeout", gateway.DefaultTimeout, "per-request gateway timeout")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log gateway calls to stderr")

	cmd.AddCommand(newSendCmd(opts), newStatusCmd(opts), newDevicesCmd(opts))
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	return cmd
}

func (o *rootOptions) logger() logx.Logger {
	if !o.verbose {
		return logx.Nop()
	}
	return logx.NewWriter(os.Stderr, "debug")
}

// gatewayConfig merges the config file (if any) with flags and environment.
// Flags win.
func (o *rootOptions) gatewayConfig() (gateway.Config, error) {
	gc := gateway.Config{Timeout: o.timeout}
	if o.configPath != "" {
		cfg, err := config.NewManager(o.configPath).Parse()
		if err != nil {
			return gateway.Config{}, err
		}
		g := cfg.Gateway
		gc = gateway.Config{
			BaseURL:      g.BaseURL,
			Username:     g.Username,
			Password:     g.Password,
			DeviceHeader: g.DeviceHeader,
			DevicesPath:  g.DevicesPath,
			Timeout:      config.DurationOr(g.Timeout, o.timeout),
			RatePerSec:   g.RatePerSec,
		}
	}
	if o.baseURL != "" {
		gc.BaseURL = o.baseURL
	}
	if gc.BaseURL == "" {
		gc.BaseURL = strings.TrimSpace(os.Getenv(EnvGatewayURL))
	}
	if o.username != "" {
		gc.Username = o.username
	}
	if p := os.Getenv(config.EnvGatewayPassword); p != "" {
		gc.Password = p
	}
	if gc.BaseURL == "" {
		return gateway.Config{}, fmt.Errorf("no gateway: pass --gateway, --config or set $%s", EnvGatewayURL)
	}
	return gc, nil
}

func (o *rootOptions) client() (*gateway.Client, error) {
	gc, err := o.gatewayConfig()
	if err != nil {
		return nil, err
	}
	return gateway.New(gc, gateway.WithLogger(o.logger().With(logx.String("comp", "gateway"))))
}
