package cmd

import (
	"context"
	"fmt"

	"github.com/foomo/templatestore/pkg/manager"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewInfoCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the bound backend and its usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, v, false, func(ctx context.Context, m *manager.Manager) error {
				info, err := m.StorageInfo(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "backend: %s (%s)\nused: %s of %s (%.2f%%)\n",
					info.Type, info.State, info.UsedFormatted, info.AvailableFormatted, info.Percentage,
				)
				return err
			})
		},
	}
}

func NewDirectoryCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Manage the template directory",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "request",
		Short: "Choose a new template directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, v, true, func(ctx context.Context, m *manager.Manager) error {
				ok, err := m.RequestFileSystemDirectory(ctx)
				if err != nil {
					return err
				}
				if !ok {
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "no directory granted, bound backend is %s\n", m.StorageType())
					return err
				}
				name, _ := m.FileSystemDirectoryName(ctx)
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "granted directory %s\n", name)
				return err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the name of the granted template directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, v, false, func(ctx context.Context, m *manager.Manager) error {
				name, ok := m.FileSystemDirectoryName(ctx)
				if !ok {
					name = "-"
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), name)
				return err
			})
		},
	})
	return cmd
}
