// Package main provides the entry point for the arre CLI application.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arre-reader/arre/internal/audio"
)

const appName = "arre"

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	verbose    bool
	clipboard  bool

	// processEnv holds the debugging switches read from the environment.
	processEnv Env

	rootCmd = &cobra.Command{
		Use:   "arre [SOURCE]",
		Short: "Read documents aloud, sentence by sentence",
		Long: paragraph(
			fmt.Sprintf("\nRead a file, a web page, stdin or the clipboard %s.\n\nSentences are synthesized concurrently and played back in order without gaps.", keyword("out loud")),
		),
		Example: paragraph("arre README.md\narre https://example.com/article\ncat notes.txt | arre -\narre --clipboard --rate 1.5"),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.MaximumNArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveDefault
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

// Env holds process-level switches that are not part of the config file.
type Env struct {
	// MockAudio replaces the sound device with a virtual clock.
	MockAudio bool   `env:"ARRE_MOCK_AUDIO"`
	LogLevel  string `env:"ARRE_LOG_LEVEL"`
}

func validateOptions(cmd *cobra.Command) error {
	e, err := env.ParseAs[Env]()
	if err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}
	processEnv = e
	applyLogSettings(verbose, e.LogLevel)

	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config %s: %w", configFile, err)
		}
	}

	if clipboard && cmd.Flags().NArg() > 0 {
		return errors.New("cannot read from both the clipboard and a source")
	}

	rate := viper.GetFloat64("rate")
	if rate < audio.MinRate || rate > audio.MaxRate {
		return fmt.Errorf("rate must be between %.2f and %.0f, got %.2f", audio.MinRate, audio.MaxRate, rate)
	}
	if w := viper.GetInt("workers"); w < 0 {
		return fmt.Errorf("workers must not be negative, got %d", w)
	}
	if q := viper.GetInt("max_queued"); q < 0 {
		return fmt.Errorf("max_queued must not be negative, got %d", q)
	}
	switch engine := viper.GetString("engine"); engine {
	case "piper", "mock":
	default:
		return fmt.Errorf("unknown engine %q: use piper or mock", engine)
	}
	return nil
}

func execute(cmd *cobra.Command, args []string) error {
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}
	if arg == "" && !clipboard {
		if yes, err := stdinIsPipe(); err != nil {
			return err
		} else if !yes {
			return cmd.Help()
		}
		arg = "-"
	}

	s, err := loadSettings()
	if err != nil {
		return err
	}
	return read(cmd.Context(), s, arg)
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr at debug level")
	rootCmd.PersistentFlags().String("engine", "piper", "synthesis engine (piper or mock)")
	rootCmd.PersistentFlags().IntP("workers", "w", 0, "synthesis workers (0 means one per CPU)")
	rootCmd.PersistentFlags().String("bus", "", `worker transport: empty for in-process, "embedded", or a nats:// URL`)
	rootCmd.PersistentFlags().Duration("timeout", 0, "time limit for synthesizing one sentence")
	rootCmd.Flags().StringP("voice", "V", "", "voice to read with")
	rootCmd.Flags().Float64P("rate", "r", audio.RateNormal, "playback rate (0.25 to 4)")
	rootCmd.Flags().BoolVarP(&clipboard, "clipboard", "c", false, "read the clipboard")
	rootCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")

	// Config bindings
	_ = viper.BindPFlag("engine", rootCmd.PersistentFlags().Lookup("engine"))
	_ = viper.BindPFlag("workers", rootCmd.PersistentFlags().Lookup("workers"))
	_ = viper.BindPFlag("bus.url", rootCmd.PersistentFlags().Lookup("bus"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("voice", rootCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("rate", rootCmd.Flags().Lookup("rate"))
	_ = viper.BindPFlag("metrics.addr", rootCmd.Flags().Lookup("metrics-addr"))

	setDefaults()

	rootCmd.AddCommand(configCmd, manCmd, workerCmd, modelsCmd, voicesCmd, cacheCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, appName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, appName)}, dirs...)
	}

	if c := os.Getenv("ARRE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName(appName)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(appName)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], appName+".yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
