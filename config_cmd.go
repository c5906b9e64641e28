package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const defaultConfig = `# voice used for reading (see "arre voices")
voice: "en_US-lessac-medium"
# synthesis engine: piper or mock
engine: "piper"
# synthesis workers, 0 means one per CPU
workers: 0
# playback rate between 0.25 and 4
rate: 1.0
# time limit for synthesizing a single sentence
timeout: "2m"
# sentences waiting for a worker before new ones are rejected, 0 means unbounded
max_queued: 0

cache:
  # audio cache directory (defaults to the user cache dir)
  dir: ""
  # in-memory cache size in megabytes
  memory_mb: 64
  # zstd level for stored audio, 0 disables compression
  compression: 3

models:
  # voice model directory (defaults to the user data dir)
  dir: ""
  # asset mirror, empty for the default
  base_url: ""

bus:
  # empty for in-process workers, "embedded", or a nats:// URL
  url: ""
  subject: "arre.worker"
  token: ""

audio:
  # output device rate: 44100 or 48000
  sample_rate: 44100
  volume: 1.0

fetch:
  user_agent: "Mozilla/5.0 (TTS Reader)"
  # how long fetched pages and robots.txt are reused
  ttl: "12h"

metrics:
  # serve Prometheus metrics, e.g. "127.0.0.1:9464"
  addr: ""
`

var printConfig bool

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the arre config file",
	Long:    paragraph(fmt.Sprintf("\n%s the arre config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("arre config\narre config --print\narre config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if printConfig {
			out, err := yaml.Marshal(viper.AllSettings())
			if err != nil {
				return fmt.Errorf("unable to encode settings: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}

		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Arre", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVar(&printConfig, "print", false, "print the effective settings instead of editing")
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
