package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/foomo/templatestore/pkg/manager"
	"github.com/foomo/templatestore/pkg/settings"
	"github.com/foomo/templatestore/pkg/storage"
	"github.com/foomo/templatestore/pkg/storage/database"
	"github.com/foomo/templatestore/pkg/storage/filesystem"
	"github.com/foomo/templatestore/pkg/storage/keyvalue"
	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// closer releases everything createManager opened
type closer func() error

// createManager builds the drivers enabled by the configuration in
// priority order. interactive allows asking for a directory on the terminal.
func createManager(v *viper.Viper, l *zap.Logger, cmd *cobra.Command, interactive bool) (*manager.Manager, closer, error) {
	var drivers []storage.Driver

	path := storageSettingsPathFlag(v)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, errors.Wrap(err, "failed to create settings directory")
	}
	store, err := settings.Open(l, path)
	if err != nil {
		return nil, nil, err
	}

	if storageFilesystemEnabledFlag(v) {
		opts := []filesystem.Option{filesystem.WithHandleStore(store)}
		switch dir := storageFilesystemDirFlag(v); {
		case dir != "":
			opts = append(opts, filesystem.WithPicker(filesystem.StaticPicker(dir)))
		case interactive && storageFilesystemPromptFlag(v) && isTerminal(os.Stdin):
			opts = append(opts, filesystem.WithPicker(filesystem.PromptPicker{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()}))
		}
		drivers = append(drivers, filesystem.New(l, opts...))
	}

	if storageDatabaseEnabledFlag(v) {
		drivers = append(drivers, database.New(l,
			database.WithDir(storageDatabaseDirFlag(v)),
			database.WithInMemory(storageDatabaseInMemoryFlag(v)),
			database.WithCapacity(storageDatabaseCapacityFlag(v)),
		))
	}

	if storageKeyValueEnabledFlag(v) {
		bucketURL := storageKeyValueBucketFlag(v)
		if bucketURL == "" {
			dir := filepath.Join(dataDirFlag(v), "kv")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				_ = store.Close()
				return nil, nil, errors.Wrap(err, "failed to create key value directory")
			}
			bucketURL = "file://" + filepath.ToSlash(dir)
		}
		l.Debug("using bucket", zap.String("url", bucketURL), zap.String("provider", detectBlobProvider(bucketURL)))
		drivers = append(drivers, keyvalue.New(l,
			keyvalue.WithBucketURL(bucketURL),
			keyvalue.WithKey(storageKeyValueKeyFlag(v)),
			keyvalue.WithQuota(storageKeyValueQuotaFlag(v)),
		))
	}

	if len(drivers) == 0 {
		_ = store.Close()
		return nil, nil, errors.New("all storage backends are disabled")
	}

	m := manager.New(l, drivers, manager.WithPreferenceStore(store))
	return m, func() error {
		return multierr.Append(m.Close(), store.Close())
	}, nil
}

// commandContext applies the configured timeout to the command context
func commandContext(cmd *cobra.Command, v *viper.Viper) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout := timeoutFlag(v); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// withManager runs fn against a manager and closes it afterwards
func withManager(cmd *cobra.Command, v *viper.Viper, interactive bool, fn func(ctx context.Context, m *manager.Manager) error) (err error) {
	ctx, cancel := commandContext(cmd, v)
	defer cancel()
	m, closeFn, err := createManager(v, zap.L(), cmd, interactive)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, closeFn())
	}()
	return fn(ctx, m)
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode output")
	}
	_, err = cmd.OutOrStdout().Write(append(data, '\n'))
	return err
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// detectBlobProvider returns a human-readable provider name from the URL scheme
func detectBlobProvider(bucketURL string) string {
	switch {
	case strings.HasPrefix(bucketURL, "gs://"):
		return "Google Cloud Storage"
	case strings.HasPrefix(bucketURL, "file://"):
		return "Local filesystem"
	case strings.HasPrefix(bucketURL, "mem://"):
		return "Memory"
	default:
		return "unknown"
	}
}
