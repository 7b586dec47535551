package keyvalue_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/foomo/templatestore/pkg/storage"
	"github.com/foomo/templatestore/pkg/storage/keyvalue"
	"github.com/foomo/templatestore/pkg/storage/storagetest"
	"github.com/foomo/templatestore/pkg/template"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
)

func newDriver(t *testing.T, opts ...keyvalue.Option) *keyvalue.Driver {
	t.Helper()
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bucket.Close() })

	opts = append([]keyvalue.Option{keyvalue.WithBucket(bucket)}, opts...)
	d := keyvalue.New(zaptest.NewLogger(t), opts...)
	require.True(t, d.IsSupported(ctx))
	require.NoError(t, d.Init(ctx))
	return d
}

func TestDriver(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Driver {
		return newDriver(t)
	})
}

func TestDriverFromURL(t *testing.T) {
	ctx := context.Background()
	d := keyvalue.New(zaptest.NewLogger(t), keyvalue.WithBucketURL("file://"+t.TempDir()))
	require.True(t, d.IsSupported(ctx))
	require.NoError(t, d.Init(ctx))
	defer d.Close()

	id, err := d.Save(ctx, storagetest.Draft("on disk"))
	require.NoError(t, err)
	got, err := d.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestNotSupportedWithoutBucket(t *testing.T) {
	d := keyvalue.New(zaptest.NewLogger(t))
	assert.False(t, d.IsSupported(context.Background()))
	assert.True(t, errors.Is(d.Init(context.Background()), storage.ErrUnsupported))
}

func TestQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t)

	draft := storagetest.Draft("big")
	draft.JSON = json.RawMessage(`{"data":"` + strings.Repeat("x", 4_900_000) + `"}`)
	_, err := d.Save(ctx, draft)
	require.NoError(t, err)

	before, err := d.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, keyvalue.DefaultQuota, before.Available)
	assert.Greater(t, before.Percentage, 90.0)

	_, err = d.Save(ctx, draft)
	require.True(t, errors.Is(err, storage.ErrQuotaExceeded))
	assert.Contains(t, err.Error(), "delete some templates or export a backup")

	after, err := d.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Used, after.Used)
	all, err := d.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestQuotaOnUpdate(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t, keyvalue.WithQuota(1024))
	id, err := d.Save(ctx, storagetest.Draft("small"))
	require.NoError(t, err)

	payload := json.RawMessage(`"` + strings.Repeat("y", 2048) + `"`)
	ok, err := d.Update(ctx, id, template.Patch{JSON: payload})
	require.True(t, errors.Is(err, storage.ErrQuotaExceeded))
	assert.False(t, ok)

	got, err := d.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
}

func TestCustomKey(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	defer bucket.Close()

	d := keyvalue.New(zaptest.NewLogger(t), keyvalue.WithBucket(bucket), keyvalue.WithKey("fabritor_templates"))
	require.NoError(t, d.Init(ctx))
	_, err = d.Save(ctx, storagetest.Draft("keyed"))
	require.NoError(t, err)

	exists, err := bucket.Exists(ctx, "fabritor_templates")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCorruptCollection(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	require.NoError(t, err)
	defer bucket.Close()
	require.NoError(t, bucket.WriteAll(ctx, keyvalue.DefaultKey, []byte("{"), nil))

	d := keyvalue.New(zaptest.NewLogger(t), keyvalue.WithBucket(bucket))
	require.Error(t, d.Init(ctx))
}
