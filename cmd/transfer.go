package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/foomo/templatestore/pkg/manager"
	"github.com/foomo/templatestore/pkg/storage"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func NewExportCommand(v *viper.Viper) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all templates into a timestamped export file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, v, false, func(ctx context.Context, m *manager.Manager) error {
				if dir == "-" {
					return m.ExportTemplates(ctx, cmd.OutOrStdout())
				}
				filename, err := m.ExportTemplatesToDir(ctx, dir)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), filename)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&dir, "out", "o", ".", "Directory to write the export file to, - for stdout")
	return cmd
}

func NewImportCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Import export files",
		Long:  "Import export files. All files are validated before anything is written.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payloads := make([][]byte, len(args))
			g, _ := errgroup.WithContext(cmd.Context())
			for i, file := range args {
				g.Go(func() error {
					data, err := os.ReadFile(file)
					if err != nil {
						return errors.Wrapf(err, "failed to read %s", file)
					}
					if _, err := storage.DecodeImport(bytes.NewReader(data)); err != nil {
						return errors.Wrap(err, file)
					}
					payloads[i] = data
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			return withManager(cmd, v, true, func(ctx context.Context, m *manager.Manager) error {
				var total int
				for i, data := range payloads {
					n, err := m.ImportTemplates(ctx, bytes.NewReader(data))
					if err != nil {
						return errors.Wrapf(err, "failed to import %s", args[i])
					}
					zap.L().Info("imported templates", zap.String("file", args[i]), zap.Int("count", n))
					total += n
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "imported %d templates\n", total)
				return err
			})
		},
	}
}

func NewMigrateCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <filesystem|database|keyvalue>",
		Short:     "Copy all templates to another backend and switch to it",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(storage.TypeFilesystem), string(storage.TypeDatabase), string(storage.TypeKeyValue)},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, ok := storage.ParseType(args[0])
			if !ok {
				return errors.Wrapf(manager.ErrUnknownBackend, "%q", args[0])
			}
			return withManager(cmd, v, true, func(ctx context.Context, m *manager.Manager) error {
				if err := m.Init(ctx); err != nil {
					return err
				}
				from := m.StorageType()
				if err := m.Migrate(ctx, target); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "migrated templates from %s to %s\n", from, m.StorageType())
				return err
			})
		},
	}
}
