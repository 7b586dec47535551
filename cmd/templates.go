package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/foomo/templatestore/pkg/manager"
	"github.com/foomo/templatestore/pkg/template"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewListCommand(v *viper.Viper) *cobra.Command {
	var (
		name   string
		recent int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, v, false, func(ctx context.Context, m *manager.Manager) error {
				var (
					templates []template.Template
					err       error
				)
				switch {
				case name != "":
					templates, err = m.FindTemplatesByName(ctx, name)
				case recent > 0:
					templates, err = m.RecentTemplates(ctx, recent)
				default:
					templates, err = m.GetAllTemplates(ctx)
				}
				if err != nil {
					return err
				}
				if templates == nil {
					templates = []template.Template{}
				}
				return writeJSON(cmd, templates)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Only list templates with exactly this name")
	cmd.Flags().IntVar(&recent, "recent", 0, "Only list the n most recently updated templates")
	return cmd
}

func NewGetCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a single template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, v, false, func(ctx context.Context, m *manager.Manager) error {
				t, err := m.GetTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				if t == nil {
					return errors.Errorf("template %s not found", args[0])
				}
				return writeJSON(cmd, t)
			})
		},
	}
}

func NewSaveCommand(v *viper.Viper) *cobra.Command {
	var (
		draft    template.Draft
		jsonFile string
	)
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Store a new template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, jsonFile)
			if err != nil {
				return err
			}
			draft.JSON = payload
			return withManager(cmd, v, true, func(ctx context.Context, m *manager.Manager) error {
				id, err := m.SaveTemplate(ctx, draft)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&draft.Name, "name", "", "Template name")
	cmd.Flags().StringVar(&draft.Description, "description", "", "Template description")
	cmd.Flags().StringVar(&draft.Thumbnail, "thumbnail", "", "Thumbnail as data url")
	cmd.Flags().StringVar(&jsonFile, "json-file", "-", "File holding the scene json, - for stdin")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func NewUpdateCommand(v *viper.Viper) *cobra.Command {
	var (
		name        string
		description string
		thumbnail   string
		jsonFile    string
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch template.Patch
			flags := cmd.Flags()
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("thumbnail") {
				patch.Thumbnail = &thumbnail
			}
			if flags.Changed("json-file") {
				payload, err := readPayload(cmd, jsonFile)
				if err != nil {
					return err
				}
				patch.JSON = payload
			}
			return withManager(cmd, v, true, func(ctx context.Context, m *manager.Manager) error {
				ok, err := m.UpdateTemplate(ctx, args[0], patch)
				if err != nil {
					return err
				}
				if !ok {
					return errors.Errorf("template %s not found", args[0])
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&description, "description", "", "New description")
	cmd.Flags().StringVar(&thumbnail, "thumbnail", "", "New thumbnail as data url")
	cmd.Flags().StringVar(&jsonFile, "json-file", "", "File holding the new scene json, - for stdin")
	return cmd
}

func NewDeleteCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, v, false, func(ctx context.Context, m *manager.Manager) error {
				ok, err := m.DeleteTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return errors.Errorf("template %s not found", args[0])
				}
				return nil
			})
		},
	}
}

func NewClearCommand(v *viper.Viper) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all templates of the bound backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete all templates without --yes")
			}
			return withManager(cmd, v, false, func(ctx context.Context, m *manager.Manager) error {
				return m.ClearAllTemplates(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting all templates")
	return cmd
}

// readPayload reads the scene json from file or stdin
func readPayload(cmd *cobra.Command, file string) ([]byte, error) {
	var r io.Reader
	if file == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(file)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %s", file)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read scene json")
	}
	return data, nil
}
