package cmd

import (
	"strings"

	"github.com/foomo/keel/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// NewRootCommand represents the base command when called without any subcommands
func NewRootCommand() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:           "templatestore",
		Short:         "Stores design templates on the best available backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zap.ReplaceGlobals(log.NewLogger(
				logLevelFlag(v),
				logFormatFlag(v),
			))
		},
	}

	flags := cmd.PersistentFlags()
	addLogLevelFlag(flags, v)
	addLogFormatFlag(flags, v)
	addTimeoutFlag(flags, v)
	addDataDirFlag(flags, v)
	addStorageSettingsPathFlag(flags, v)
	addStorageFilesystemEnabledFlag(flags, v)
	addStorageFilesystemDirFlag(flags, v)
	addStorageFilesystemPromptFlag(flags, v)
	addStorageDatabaseEnabledFlag(flags, v)
	addStorageDatabaseDirFlag(flags, v)
	addStorageDatabaseInMemoryFlag(flags, v)
	addStorageDatabaseCapacityFlag(flags, v)
	addStorageKeyValueEnabledFlag(flags, v)
	addStorageKeyValueBucketFlag(flags, v)
	addStorageKeyValueKeyFlag(flags, v)
	addStorageKeyValueQuotaFlag(flags, v)

	cmd.AddCommand(
		NewListCommand(v),
		NewGetCommand(v),
		NewSaveCommand(v),
		NewUpdateCommand(v),
		NewDeleteCommand(v),
		NewClearCommand(v),
		NewExportCommand(v),
		NewImportCommand(v),
		NewInfoCommand(v),
		NewMigrateCommand(v),
		NewDirectoryCommand(v),
		NewServeCommand(v),
		NewVersionCommand(),
	)

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		zap.L().Fatal("failed to run command", zap.Error(err))
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}
