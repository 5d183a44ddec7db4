// Package cmd implements the fluxer command line tool.
package cmd

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chrisboulton/fluxer-go"
	"github.com/chrisboulton/fluxer-go/rest"
)

// app carries the state shared by every command.
type app struct {
	v      *viper.Viper
	logger *slog.Logger
}

// NewRootCmd builds the command tree. Settings come from flags, FLUXER_*
// environment variables and an optional YAML config file, in that order.
func NewRootCmd(version string) *cobra.Command {
	a := &app{v: viper.New()}
	var cfgFile string

	root := &cobra.Command{
		Use:           "fluxer",
		Short:         "Inspect the Fluxer gateway and REST API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cfgFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fluxer.yaml)")
	flags.String("token", "", "bot token (or FLUXER_TOKEN)")
	flags.String("api-url", rest.DefaultBaseURL, "REST API base URL")
	flags.BoolP("verbose", "v", false, "verbose output (sets log level to debug)")
	_ = a.v.BindPFlag("token", flags.Lookup("token"))
	_ = a.v.BindPFlag("api_url", flags.Lookup("api-url"))
	_ = a.v.BindPFlag("verbose", flags.Lookup("verbose"))

	root.AddCommand(
		newTailCmd(a),
		newGatewayInfoCmd(a),
		newShardForCmd(a),
		newBucketCmd(a),
		newRequestCmd(a),
	)
	return root
}

func (a *app) init(cfgFile string) error {
	a.v.SetEnvPrefix("FLUXER")
	a.v.AutomaticEnv()

	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			a.v.AddConfigPath(home)
		}
		a.v.AddConfigPath(".")
		a.v.SetConfigName(".fluxer")
		a.v.SetConfigType("yaml")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return err
		}
	}

	level := slog.LevelInfo
	if a.v.GetBool("verbose") {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

// client builds an API client from the configured token and URL.
func (a *app) client(opts ...fluxer.ClientOption) (*fluxer.Client, error) {
	base := []fluxer.ClientOption{
		fluxer.WithLogger(a.logger),
		fluxer.WithRESTOptions(rest.WithBaseURL(a.v.GetString("api_url"))),
	}
	return fluxer.New(a.v.GetString("token"), append(base, opts...)...)
}
