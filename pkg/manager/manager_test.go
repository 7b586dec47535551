package manager_test

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/foomo/templatestore/pkg/manager"
	"github.com/foomo/templatestore/pkg/settings"
	"github.com/foomo/templatestore/pkg/storage"
	"github.com/foomo/templatestore/pkg/storage/database"
	"github.com/foomo/templatestore/pkg/storage/filesystem"
	"github.com/foomo/templatestore/pkg/storage/keyvalue"
	"github.com/foomo/templatestore/pkg/storage/storagetest"
	"github.com/foomo/templatestore/pkg/template"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
)

// ------------------------------------------------------------------------------------------------
// ~ Helpers
// ------------------------------------------------------------------------------------------------

func newFilesystem(t *testing.T, opts ...filesystem.Option) *filesystem.Driver {
	t.Helper()
	handles, err := settings.Open(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = handles.Close() })
	opts = append([]filesystem.Option{
		filesystem.WithFs(afero.NewMemMapFs()),
		filesystem.WithHandleStore(handles),
	}, opts...)
	return filesystem.New(zaptest.NewLogger(t), opts...)
}

func newDatabase(t *testing.T) *database.Driver {
	t.Helper()
	d := database.New(zaptest.NewLogger(t), database.WithInMemory(true))
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func newKeyValue(t *testing.T, opts ...keyvalue.Option) *keyvalue.Driver {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bucket.Close() })
	return keyvalue.New(zaptest.NewLogger(t), append([]keyvalue.Option{keyvalue.WithBucket(bucket)}, opts...)...)
}

func declining(calls *int32) filesystem.Picker {
	return filesystem.PickerFunc(func(ctx context.Context) (string, error) {
		atomic.AddInt32(calls, 1)
		return "", storage.ErrUserDeclined
	})
}

// countingDriver counts support probes
type countingDriver struct {
	storage.Driver
	probes int32
}

func (d *countingDriver) IsSupported(ctx context.Context) bool {
	atomic.AddInt32(&d.probes, 1)
	return d.Driver.IsSupported(ctx)
}

// ------------------------------------------------------------------------------------------------
// ~ Tests
// ------------------------------------------------------------------------------------------------

func TestBindsHighestSupportedPriority(t *testing.T) {
	ctx := context.Background()
	db := newDatabase(t)
	m := manager.New(zaptest.NewLogger(t), []storage.Driver{
		newFilesystem(t),
		db,
		newKeyValue(t),
	})
	assert.Equal(t, manager.StateUninitialized, m.State())

	_, err := m.SaveTemplate(ctx, storagetest.Draft("poster"))
	require.NoError(t, err)
	assert.Equal(t, storage.TypeDatabase, m.StorageType())
	assert.Equal(t, manager.StateBound, m.State())

	all, err := db.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStickyFallbackAfterDecline(t *testing.T) {
	ctx := context.Background()
	var calls int32
	db := newDatabase(t)
	m := manager.New(zaptest.NewLogger(t), []storage.Driver{
		newFilesystem(t, filesystem.WithPicker(declining(&calls))),
		db,
	})
	require.NoError(t, m.Init(ctx))
	assert.Equal(t, storage.TypeFilesystem, m.StorageType())

	id, err := m.SaveTemplate(ctx, storagetest.Draft("poster"))
	require.NoError(t, err)
	assert.Equal(t, storage.TypeDatabase, m.StorageType())
	assert.Equal(t, manager.StateDegraded, m.State())

	got, err := db.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)

	_, err = m.SaveTemplate(ctx, storagetest.Draft("second"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "the declined backend must not be asked again")
	assert.Equal(t, storage.TypeDatabase, m.StorageType())
}

func TestDeclineWithoutFallback(t *testing.T) {
	ctx := context.Background()
	var calls int32
	m := manager.New(zaptest.NewLogger(t), []storage.Driver{
		newFilesystem(t, filesystem.WithPicker(declining(&calls))),
	})
	_, err := m.SaveTemplate(ctx, storagetest.Draft("poster"))
	require.True(t, errors.Is(err, storage.ErrUserDeclined))
	assert.Equal(t, storage.TypeFilesystem, m.StorageType())
	assert.Equal(t, manager.StateBound, m.State())
}

func TestNoBackend(t *testing.T) {
	ctx := context.Background()
	m := manager.New(zaptest.NewLogger(t), []storage.Driver{newFilesystem(t), keyvalue.New(zaptest.NewLogger(t))})

	_, err := m.GetAllTemplates(ctx)
	require.True(t, errors.Is(err, manager.ErrNoBackend))
	assert.Equal(t, manager.StateUninitialized, m.State())
	assert.Empty(t, m.StorageType())
	_, ok := m.FileSystemDirectoryName(ctx)
	assert.False(t, ok)
}

func TestConcurrentInitProbesOnce(t *testing.T) {
	ctx := context.Background()
	d := &countingDriver{Driver: newDatabase(t)}
	m := manager.New(zaptest.NewLogger(t), []storage.Driver{d})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Init(ctx))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&d.probes))
}

func TestQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	m := manager.New(zaptest.NewLogger(t), []storage.Driver{newKeyValue(t)})

	draft := storagetest.Draft("big")
	draft.JSON = json.RawMessage(`{"data":"` + strings.Repeat("x", 4_900_000) + `"}`)
	_, err := m.SaveTemplate(ctx, draft)
	require.NoError(t, err)
	before, err := m.StorageInfo(ctx)
	require.NoError(t, err)

	_, err = m.SaveTemplate(ctx, draft)
	require.True(t, errors.Is(err, storage.ErrQuotaExceeded))
	assert.Contains(t, err.Error(), "export a backup")
	assert.Equal(t, storage.TypeKeyValue, m.StorageType(), "a full backend is not a reason to fall back")

	after, err := m.StorageInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Used, after.Used)
}

func TestStorageInfo(t *testing.T) {
	ctx := context.Background()
	m := manager.New(zaptest.NewLogger(t), []storage.Driver{newKeyValue(t)})
	info, err := m.StorageInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.TypeKeyValue, info.Type)
	assert.Equal(t, manager.StateBound, info.State)
	assert.Equal(t, "0 B", info.UsedFormatted)
	assert.Equal(t, "5.00 MB", info.AvailableFormatted)

	m = manager.New(zaptest.NewLogger(t), []storage.Driver{newDatabase(t)})
	info, err = m.StorageInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "∞", info.AvailableFormatted)
}

func TestMigrateKeepsSource(t *testing.T) {
	ctx := context.Background()
	db := newDatabase(t)
	fs := newFilesystem(t, filesystem.WithPicker(filesystem.StaticPicker("/templates")))
	// the database is preferred so the filesystem is only reached by migration
	m := manager.New(zaptest.NewLogger(t), []storage.Driver{db, fs})

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		id, err := m.SaveTemplate(ctx, storagetest.Draft(name))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	before, err := m.GetAllTemplates(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Migrate(ctx, storage.TypeFilesystem))
	assert.Equal(t, storage.TypeFilesystem, m.StorageType())

	after, err := m.GetAllTemplates(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	source, err := db.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, source, 3)

	name, ok := m.FileSystemDirectoryName(ctx)
	assert.True(t, ok)
	assert.Equal(t, "templates", name)
}

func TestMigrateFailureKeepsBinding(t *testing.T) {
	ctx := context.Background()
	kv := newKeyValue(t, keyvalue.WithQuota(1024))
	m := manager.New(zaptest.NewLogger(t), []storage.Driver{newDatabase(t), kv})
	for i := 0; i < 3; i++ {
		draft := storagetest.Draft("big")
		draft.JSON = json.RawMessage(`"` + strings.Repeat("x", 600) + `"`)
		_, err := m.SaveTemplate(ctx, draft)
		require.NoError(t, err)
	}

	err := m.Migrate(ctx, storage.TypeKeyValue)
	require.True(t, errors.Is(err, storage.ErrQuotaExceeded))
	assert.Equal(t, storage.TypeDatabase, m.StorageType())

	all, err := m.GetAllTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMigrateUnsupportedTarget(t *testing.T) {
	ctx := context.Background()
	m := manager.New(zaptest.NewLogger(t), []storage.Driver{newDatabase(t), newFilesystem(t)})
	err := m.Migrate(ctx, storage.TypeFilesystem)
	require.True(t, errors.Is(err, storage.ErrUnsupported))
	assert.Equal(t, storage.TypeDatabase, m.StorageType())
}

func TestMigrateUnknownAndSame(t *testing.T) {
	ctx := context.Background()
	m := manager.New(zaptest.NewLogger(t), []storage.Driver{newDatabase(t)})
	require.True(t, errors.Is(m.Migrate(ctx, storage.TypeKeyValue), manager.ErrUnknownBackend))
	require.NoError(t, m.Migrate(ctx, storage.TypeDatabase))
	assert.Equal(t, storage.TypeDatabase, m.StorageType())
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	exportFs := afero.NewMemMapFs()
	m := manager.New(zaptest.NewLogger(t), []storage.Driver{newDatabase(t)}, manager.WithExportFs(exportFs))
	for _, name := range []string{"a", "b"} {
		_, err := m.SaveTemplate(ctx, storagetest.Draft(name))
		require.NoError(t, err)
	}
	want, err := m.GetAllTemplates(ctx)
	require.NoError(t, err)

	path, err := m.ExportTemplatesToDir(ctx, "/exports")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), storage.ExportFilePrefix))
	data, err := afero.ReadFile(exportFs, path)
	require.NoError(t, err)

	require.NoError(t, m.ClearAllTemplates(ctx))
	n, err := m.ImportTemplates(ctx, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := m.GetAllTemplates(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = m.ImportTemplates(ctx, strings.NewReader(`{"not":"an array"}`))
	require.True(t, errors.Is(err, storage.ErrMalformedImport))
	got, err = m.GetAllTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestImportFallsBack(t *testing.T) {
	ctx := context.Background()
	var calls int32
	m := manager.New(zaptest.NewLogger(t), []storage.Driver{
		newFilesystem(t, filesystem.WithPicker(declining(&calls))),
		newKeyValue(t),
	})
	n, err := m.ImportTemplates(ctx, strings.NewReader(`[{"name":"fresh","json":{}}]`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, storage.TypeKeyValue, m.StorageType())
}

func TestCrud(t *testing.T) {
	ctx := context.Background()
	m := manager.New(zaptest.NewLogger(t), []storage.Driver{newKeyValue(t)})

	id, err := m.SaveTemplate(ctx, storagetest.Draft("poster"))
	require.NoError(t, err)

	name := "flyer"
	ok, err := m.UpdateTemplate(ctx, id, template.Patch{Name: &name})
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := m.FindTemplatesByName(ctx, "flyer")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, id, found[0].ID)

	recent, err := m.RecentTemplates(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	ok, err = m.DeleteTemplate(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.DeleteTemplate(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := m.GetTemplate(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDirectoryRequestOnlyForFilesystem(t *testing.T) {
	ctx := context.Background()
	m := manager.New(zaptest.NewLogger(t), []storage.Driver{newDatabase(t)})
	ok, err := m.RequestFileSystemDirectory(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok = m.FileSystemDirectoryName(ctx)
	assert.False(t, ok)

	m = manager.New(zaptest.NewLogger(t), []storage.Driver{
		newFilesystem(t, filesystem.WithPicker(filesystem.StaticPicker("/designs"))),
	})
	ok, err = m.RequestFileSystemDirectory(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	name, ok := m.FileSystemDirectoryName(ctx)
	assert.True(t, ok)
	assert.Equal(t, "designs", name)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	m := manager.New(zaptest.NewLogger(t), []storage.Driver{newDatabase(t), newKeyValue(t)})
	require.NoError(t, m.Init(ctx))
	require.NoError(t, m.Close())
}

func TestMigrationIsRemembered(t *testing.T) {
	ctx := context.Background()
	prefs, err := settings.Open(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	defer prefs.Close()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	defer bucket.Close()

	first := manager.New(zaptest.NewLogger(t), []storage.Driver{
		newDatabase(t),
		keyvalue.New(zaptest.NewLogger(t), keyvalue.WithBucket(bucket)),
	}, manager.WithPreferenceStore(prefs))
	_, err = first.SaveTemplate(ctx, storagetest.Draft("poster"))
	require.NoError(t, err)
	require.NoError(t, first.Migrate(ctx, storage.TypeKeyValue))

	second := manager.New(zaptest.NewLogger(t), []storage.Driver{
		newDatabase(t),
		keyvalue.New(zaptest.NewLogger(t), keyvalue.WithBucket(bucket)),
	}, manager.WithPreferenceStore(prefs))
	require.NoError(t, second.Init(ctx))
	assert.Equal(t, storage.TypeKeyValue, second.StorageType())
	all, err := second.GetAllTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
