package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/azsession/cosmosstate/internal/store/cosmos"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sessiond",
		Short:         "sessiond bootstraps and diagnoses a Cosmos DB session-state backend",
		SilenceErrors: true,
		Example: strings.TrimSpace(`
# Provision the database, container, and conflict-arbitration script
SESSIONSTORE_CONNECTION_STRING="AccountEndpoint=https://acct.documents.azure.com:443/;AccountKey=..." \
SESSIONSTORE_DATABASE=sessions SESSIONSTORE_CONTAINER=SessionStore sessiond bootstrap

# Verify connectivity and report the configured lock TTL
sessiond preflight

# Inspect one session's content record
sessiond inspect my-session-id
`),
	}

	flags := cmd.PersistentFlags()
	flags.String("connection-string", "", "Cosmos DB connection string (AccountEndpoint=...;AccountKey=...;)")
	flags.String("database", "sessions", "Cosmos DB database id")
	flags.String("container", "SessionStore", "Cosmos DB container id")
	flags.Int("lock-ttl", 30, "lock record TTL in seconds")

	viper.SetEnvPrefix("SESSIONSTORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range []string{"connection-string", "database", "container", "lock-ttl"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	cmd.AddCommand(newBootstrapCommand())
	cmd.AddCommand(newPreflightCommand())
	cmd.AddCommand(newInspectCommand())
	return cmd
}

// lockTTLWasSet reports whether --lock-ttl (or its environment variable)
// was explicitly provided rather than left at its default, so bootstrap can
// note when it is provisioning a lock TTL the operator didn't ask for.
func lockTTLWasSet(cmd *cobra.Command) bool {
	var flag *pflag.Flag
	cmd.Root().PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if f.Name == "lock-ttl" {
			flag = f
		}
	})
	return (flag != nil && flag.Changed) || viper.IsSet("lock-ttl")
}

func rootLogger() pslog.Logger {
	return pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("SESSIONSTORE_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "sessiond")
}

func connectBackend() (*cosmos.Store, error) {
	cs := viper.GetString("connection-string")
	if cs == "" {
		return nil, fmt.Errorf("sessiond: --connection-string (or SESSIONSTORE_CONNECTION_STRING) is required")
	}
	return cosmos.New(cosmos.Config{
		ConnectionString: cs,
		DatabaseID:       viper.GetString("database"),
		ContainerID:      viper.GetString("container"),
		LockTTLSeconds:   viper.GetInt("lock-ttl"),
	})
}
