package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joestump/cwmp-acs/internal/cache"
	"github.com/joestump/cwmp-acs/internal/config"
)

var logger = zap.NewNop()

func main() {
	rootCmd := &cobra.Command{
		Use:           "cwmpacs",
		Short:         "CWMP session engine tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLogger(config.Load())
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
	}

	f := rootCmd.PersistentFlags()
	f.String("cache-path", "cwmpacs.db", "path to the SQLite cache")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.String("log-format", "console", "log format (console, json)")

	// Bind flags to viper. Viper keys use underscores (cache_path) so they
	// match the env var suffix after stripping the CWMPACS_ prefix.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("cache_path", "cache-path")
	bindFlag("log_level", "log-level")
	bindFlag("log_format", "log-format")

	viper.SetEnvPrefix("CWMPACS")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	rootCmd.AddCommand(configCmd(), provisionCmd(), vparamCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.LogLevel, err)
	}
	zc := zap.NewDevelopmentConfig()
	if cfg.LogFormat == "json" {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func openStore() (*cache.Store, error) {
	cfg := config.Load()
	store, err := cache.Open(cfg.CachePath)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", cfg.CachePath, err)
	}
	logger.Debug("cache opened", zap.String("path", cfg.CachePath))
	return store, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("cwmpacs", config.Version)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage engine configuration keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck
			return store.SetConfig(args[0], args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a configuration key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck
			return store.DeleteConfig(args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configuration keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck
			entries, err := store.ListConfig()
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s=%s\n", e.Key, e.Value)
			}
			return nil
		},
	})

	return cmd
}

func provisionCmd() *cobra.Command {
	return scriptCmd(scriptCmdSpec{
		use:    "provision",
		short:  "Manage provision scripts",
		put:    func(s *cache.Store, name, script string) error { return s.PutProvision(name, script) },
		delete: func(s *cache.Store, name string) error { return s.DeleteProvision(name) },
		list:   func(s *cache.Store) ([]cache.ScriptEntry, error) { return s.ListProvisions() },
	})
}

func vparamCmd() *cobra.Command {
	return scriptCmd(scriptCmdSpec{
		use:    "vparam",
		short:  "Manage virtual parameter scripts",
		put:    func(s *cache.Store, name, script string) error { return s.PutVirtualParameter(name, script) },
		delete: func(s *cache.Store, name string) error { return s.DeleteVirtualParameter(name) },
		list:   func(s *cache.Store) ([]cache.ScriptEntry, error) { return s.ListVirtualParameters() },
	})
}

type scriptCmdSpec struct {
	use    string
	short  string
	put    func(*cache.Store, string, string) error
	delete func(*cache.Store, string) error
	list   func(*cache.Store) ([]cache.ScriptEntry, error)
}

func scriptCmd(spec scriptCmdSpec) *cobra.Command {
	cmd := &cobra.Command{
		Use:   spec.use,
		Short: spec.short,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "put <name> <file>",
		Short: "Store a script from a file (use - for stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[1] == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(args[1])
			}
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck
			return spec.put(store, args[0], string(data))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck
			return spec.delete(store, args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck
			entries, err := spec.list(store)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s\t%s\n", e.Name, e.UpdatedAt)
			}
			return nil
		},
	})

	return cmd
}
