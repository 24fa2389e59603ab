package main

import (
	"context"
	"os"

	"github.com/mistakeknot/miochat/client"
	"github.com/mistakeknot/miochat/internal/config"
	"github.com/mistakeknot/miochat/pkg/messenger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries the resolved configuration from the root command to its
// subcommands.
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     config.Config
}

// flagKeys maps config keys to the flag names that can override them. Only
// the flags a command actually defines are bound.
var flagKeys = map[string]string{
	"log_level":         "log-level",
	"db":                "db",
	"keys_file":         "keys-file",
	"server":            "server",
	"token":             "token",
	"addr":              "addr",
	"socket":            "socket",
	"watch_keys":        "watch-keys",
	"send_rate":         "send-rate",
	"send_burst":        "send-burst",
	"block_policy":      "block-policy",
	"search_limit":      "search-limit",
	"history_limit":     "history-limit",
	"subscribe_timeout": "subscribe-timeout",
	"slow_query":        "slow-query",
}

func rootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "miochat",
		Short:         "One-to-one messaging server and client",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (yaml)")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("db", "", "SQLite database path")
	pf.String("keys-file", "", "token keyring path")
	pf.String("server", "", "server base URL for client commands")
	pf.String("token", "", "bearer token for client commands")

	cmd.AddCommand(serveCmd(a), usersCmd(a), searchCmd(a), contactsCmd(a), chatCmd(a))
	return cmd
}

func (a *app) load(cmd *cobra.Command) error {
	v, err := config.New(a.cfgFile)
	if err != nil {
		return err
	}
	for key, name := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg.ApplyLogging()
	logrus.SetOutput(cmd.ErrOrStderr())
	a.v = v
	a.cfg = cfg
	return nil
}

// session logs in against the configured server.
func (a *app) session(ctx context.Context, opts ...messenger.Option) (*messenger.Session, error) {
	rest := client.New(a.cfg.Server, client.WithToken(a.cfg.Token))
	channel := client.NewWSClient(a.cfg.Server, client.WithWSToken(a.cfg.Token))
	opts = append([]messenger.Option{messenger.WithTimeout(a.cfg.SubscribeTimeout)}, opts...)
	return messenger.NewSession(ctx, rest, rest, channel, opts...)
}
