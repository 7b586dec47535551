package cmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/foomo/templatestore/pkg/storage/keyvalue"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ------------------------------------------------------------------------------------------------
// ~ Global
// ------------------------------------------------------------------------------------------------

func logLevelFlag(v *viper.Viper) string {
	return v.GetString("log.level")
}

func addLogLevelFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("log-level", "info", "log level")
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindEnv("log.level", "LOG_LEVEL")
}

func logFormatFlag(v *viper.Viper) string {
	return v.GetString("log.format")
}

func addLogFormatFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("log-format", "console", "log format")
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = v.BindEnv("log.format", "LOG_FORMAT")
}

func timeoutFlag(v *viper.Viper) time.Duration {
	return v.GetDuration("timeout")
}

func addTimeoutFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Duration("timeout", 0, "Timeout for a single command, 0 waits forever")
	_ = v.BindPFlag("timeout", flags.Lookup("timeout"))
	_ = v.BindEnv("timeout", "TEMPLATESTORE_TIMEOUT")
}

func dataDirFlag(v *viper.Viper) string {
	return v.GetString("data_dir")
}

func addDataDirFlag(flags *pflag.FlagSet, v *viper.Viper) {
	dir := ".templatestore"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, dir)
	}
	flags.String("data-dir", dir, "Directory for settings and default backend locations")
	_ = v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = v.BindEnv("data_dir", "TEMPLATESTORE_DATA_DIR")
}

// ------------------------------------------------------------------------------------------------
// ~ Storage
// ------------------------------------------------------------------------------------------------

func storageFilesystemEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("storage.filesystem.enabled")
}

func addStorageFilesystemEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("storage-filesystem-enabled", true, "Enable the directory backend")
	_ = v.BindPFlag("storage.filesystem.enabled", flags.Lookup("storage-filesystem-enabled"))
	_ = v.BindEnv("storage.filesystem.enabled", "TEMPLATESTORE_STORAGE_FILESYSTEM_ENABLED")
}

func storageFilesystemDirFlag(v *viper.Viper) string {
	return v.GetString("storage.filesystem.dir")
}

func addStorageFilesystemDirFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("storage-filesystem-dir", "", "Grant this directory to the directory backend without asking")
	_ = v.BindPFlag("storage.filesystem.dir", flags.Lookup("storage-filesystem-dir"))
	_ = v.BindEnv("storage.filesystem.dir", "TEMPLATESTORE_STORAGE_FILESYSTEM_DIR")
}

func storageFilesystemPromptFlag(v *viper.Viper) bool {
	return v.GetBool("storage.filesystem.prompt")
}

func addStorageFilesystemPromptFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("storage-filesystem-prompt", true, "Ask for a directory on the terminal when none is granted")
	_ = v.BindPFlag("storage.filesystem.prompt", flags.Lookup("storage-filesystem-prompt"))
	_ = v.BindEnv("storage.filesystem.prompt", "TEMPLATESTORE_STORAGE_FILESYSTEM_PROMPT")
}

func storageSettingsPathFlag(v *viper.Viper) string {
	if p := v.GetString("storage.settings.path"); p != "" {
		return p
	}
	return filepath.Join(dataDirFlag(v), "settings.db")
}

func addStorageSettingsPathFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("storage-settings-path", "", "SQLite file persisting the granted directory, defaults to <data-dir>/settings.db")
	_ = v.BindPFlag("storage.settings.path", flags.Lookup("storage-settings-path"))
	_ = v.BindEnv("storage.settings.path", "TEMPLATESTORE_STORAGE_SETTINGS_PATH")
}

func storageDatabaseEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("storage.database.enabled")
}

func addStorageDatabaseEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("storage-database-enabled", true, "Enable the database backend")
	_ = v.BindPFlag("storage.database.enabled", flags.Lookup("storage-database-enabled"))
	_ = v.BindEnv("storage.database.enabled", "TEMPLATESTORE_STORAGE_DATABASE_ENABLED")
}

func storageDatabaseDirFlag(v *viper.Viper) string {
	if dir := v.GetString("storage.database.dir"); dir != "" {
		return dir
	}
	return filepath.Join(dataDirFlag(v), "db")
}

func addStorageDatabaseDirFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("storage-database-dir", "", "Database directory, defaults to <data-dir>/db")
	_ = v.BindPFlag("storage.database.dir", flags.Lookup("storage-database-dir"))
	_ = v.BindEnv("storage.database.dir", "TEMPLATESTORE_STORAGE_DATABASE_DIR")
}

func storageDatabaseInMemoryFlag(v *viper.Viper) bool {
	return v.GetBool("storage.database.in_memory")
}

func addStorageDatabaseInMemoryFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("storage-database-in-memory", false, "Keep the database in memory only")
	_ = v.BindPFlag("storage.database.in_memory", flags.Lookup("storage-database-in-memory"))
	_ = v.BindEnv("storage.database.in_memory", "TEMPLATESTORE_STORAGE_DATABASE_IN_MEMORY")
}

func storageDatabaseCapacityFlag(v *viper.Viper) int64 {
	return v.GetInt64("storage.database.capacity")
}

func addStorageDatabaseCapacityFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Int64("storage-database-capacity", 0, "Capacity in bytes reported for the database, 0 for unbounded")
	_ = v.BindPFlag("storage.database.capacity", flags.Lookup("storage-database-capacity"))
	_ = v.BindEnv("storage.database.capacity", "TEMPLATESTORE_STORAGE_DATABASE_CAPACITY")
}

func storageKeyValueEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("storage.keyvalue.enabled")
}

func addStorageKeyValueEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("storage-keyvalue-enabled", true, "Enable the key value backend")
	_ = v.BindPFlag("storage.keyvalue.enabled", flags.Lookup("storage-keyvalue-enabled"))
	_ = v.BindEnv("storage.keyvalue.enabled", "TEMPLATESTORE_STORAGE_KEYVALUE_ENABLED")
}

func storageKeyValueBucketFlag(v *viper.Viper) string {
	return v.GetString("storage.keyvalue.bucket")
}

func addStorageKeyValueBucketFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("storage-keyvalue-bucket", "", "Bucket url (mem://, file:///path, gs://bucket), defaults to file://<data-dir>/kv")
	_ = v.BindPFlag("storage.keyvalue.bucket", flags.Lookup("storage-keyvalue-bucket"))
	_ = v.BindEnv("storage.keyvalue.bucket", "TEMPLATESTORE_STORAGE_KEYVALUE_BUCKET")
}

func storageKeyValueKeyFlag(v *viper.Viper) string {
	return v.GetString("storage.keyvalue.key")
}

func addStorageKeyValueKeyFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("storage-keyvalue-key", keyvalue.DefaultKey, "Key the collection is stored under")
	_ = v.BindPFlag("storage.keyvalue.key", flags.Lookup("storage-keyvalue-key"))
	_ = v.BindEnv("storage.keyvalue.key", "TEMPLATESTORE_STORAGE_KEYVALUE_KEY")
}

func storageKeyValueQuotaFlag(v *viper.Viper) int64 {
	return v.GetInt64("storage.keyvalue.quota")
}

func addStorageKeyValueQuotaFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Int64("storage-keyvalue-quota", keyvalue.DefaultQuota, "Maximum size of the collection in bytes")
	_ = v.BindPFlag("storage.keyvalue.quota", flags.Lookup("storage-keyvalue-quota"))
	_ = v.BindEnv("storage.keyvalue.quota", "TEMPLATESTORE_STORAGE_KEYVALUE_QUOTA")
}

// ------------------------------------------------------------------------------------------------
// ~ Serve
// ------------------------------------------------------------------------------------------------

func addressFlag(v *viper.Viper) string {
	return v.GetString("address")
}

func addAddressFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("address", ":8080", "Address to bind to (host:port)")
	_ = v.BindPFlag("address", flags.Lookup("address"))
	_ = v.BindEnv("address", "TEMPLATESTORE_ADDRESS")
}

func basePathFlag(v *viper.Viper) string {
	return v.GetString("base_path")
}

func addBasePathFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String("base-path", "/templates", "Base path to export the webserver on")
	_ = v.BindPFlag("base_path", flags.Lookup("base-path"))
	_ = v.BindEnv("base_path", "TEMPLATESTORE_BASE_PATH")
}

func infoIntervalFlag(v *viper.Viper) time.Duration {
	return v.GetDuration("info_interval")
}

func addInfoIntervalFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Duration("info-interval", time.Minute, "Interval to refresh the storage usage metrics, 0 disables it")
	_ = v.BindPFlag("info_interval", flags.Lookup("info-interval"))
	_ = v.BindEnv("info_interval", "TEMPLATESTORE_INFO_INTERVAL")
}

func gzipLevelFlag(v *viper.Viper) int {
	return v.GetInt("gzip_level")
}

func addGzipLevelFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Int("gzip-level", -1, "GZip compression level, -1 for the default")
	_ = v.BindPFlag("gzip_level", flags.Lookup("gzip-level"))
	_ = v.BindEnv("gzip_level", "TEMPLATESTORE_GZIP_LEVEL")
}

func gracefulPeriodFlag(v *viper.Viper) time.Duration {
	return v.GetDuration("graceful_period")
}

func addGracefulPeriodFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Duration("graceful-period", 0, "Graceful period before shutdown")
	_ = v.BindPFlag("graceful_period", flags.Lookup("graceful-period"))
	_ = v.BindEnv("graceful_period", "TEMPLATESTORE_GRACEFUL_PERIOD")
}

func serviceHealthzEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("service.healthz.enabled")
}

func addServiceHealthzEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("service-healthz-enabled", false, "Enable healthz service")
	_ = v.BindPFlag("service.healthz.enabled", flags.Lookup("service-healthz-enabled"))
}

func servicePrometheusEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("service.prometheus.enabled")
}

func addServicePrometheusEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("service-prometheus-enabled", false, "Enable prometheus service")
	_ = v.BindPFlag("service.prometheus.enabled", flags.Lookup("service-prometheus-enabled"))
}

func servicePProfEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("service.pprof.enabled")
}

func addServicePProfEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("service-pprof-enabled", false, "Enable pprof service")
	_ = v.BindPFlag("service.pprof.enabled", flags.Lookup("service-pprof-enabled"))
}

func otelEnabledFlag(v *viper.Viper) bool {
	return v.GetBool("otel.enabled")
}

func addOtelEnabledFlag(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Bool("otel-enabled", false, "Enable otel service")
	_ = v.BindPFlag("otel.enabled", flags.Lookup("otel-enabled"))
	_ = v.BindEnv("otel.enabled", "OTEL_ENABLED")
}
