package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/cosmos-bootstrap/internal/config"
	"github.com/oshokin/cosmos-bootstrap/internal/logger"
)

var errConfigExists = errors.New("configuration file already exists, use --force to replace it")

// sampleConfigCmd writes an example configuration to --config.
var sampleConfigCmd = &cobra.Command{
	Use:   "sample-config",
	Short: "Write an example configuration file.",
	Long: `Write an example configuration for an Osmosis node to the path given by --config.

An existing file is kept unless --force is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := os.Stat(configPath); err == nil && !force {
			return fmt.Errorf("%s: %w", configPath, errConfigExists)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %w", config.ErrConfig, err)
		}

		if err := config.Save(configPath, config.Sample()); err != nil {
			return err
		}

		logger.InfoKV(cmd.Context(), "Sample configuration written", "path", configPath)

		return nil
	},
}
