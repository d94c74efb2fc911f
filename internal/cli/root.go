package cli

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides, e.g. APG_REPO_ROOT
const envPrefix = "APG"

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "apgunpacker <archive.apg>",
		Short: "Ingest an APG package archive into a package repository",
		Long: `Apgunpacker extracts a submitted .apg archive, validates its metadata.json
and merges it into the filesystem repository:

  <repo-root>/<name>/metadata.json
  <repo-root>/<name>/<arch>/<base_version>.apg

Only one archive is processed per run. Runs against the same package must
not overlap.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			if v.GetBool("verbose") {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig(v, args[0])
			if err := validateConfig(config); err != nil {
				return err
			}

			logrus.Debugf("Configuration: %+v", redact(*config))

			return runIngestion(cmd.Context(), config)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Repository flags
	rootCmd.Flags().StringP("repo-root", "r", "packages", "Repository root directory")
	rootCmd.Flags().String("scratch-dir", "", "Parent directory for temporary extraction (defaults to the system temp dir)")

	// GPG signing flags
	rootCmd.Flags().StringP("gpg-key", "k", "", "Path to GPG private key used to sign metadata.json")
	rootCmd.Flags().StringP("gpg-passphrase", "p", "", "GPG key passphrase")

	v.BindPFlags(rootCmd.PersistentFlags())
	v.BindPFlags(rootCmd.Flags())
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return rootCmd
}
