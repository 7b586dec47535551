package settings_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/foomo/templatestore/pkg/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.db")
	s, err := settings.Open(zaptest.NewLogger(t), path)
	require.NoError(t, err)

	_, ok, err := s.Get(ctx, "directoryHandle")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "directoryHandle", "/tmp/a"))
	require.NoError(t, s.Put(ctx, "directoryHandle", "/tmp/b"))
	value, ok, err := s.Get(ctx, "directoryHandle")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/tmp/b", value)
	require.NoError(t, s.Close())

	// values survive a reopen
	s, err = settings.Open(zaptest.NewLogger(t), path)
	require.NoError(t, err)
	defer s.Close()
	value, ok, err = s.Get(ctx, "directoryHandle")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/tmp/b", value)

	require.NoError(t, s.Delete(ctx, "directoryHandle"))
	require.NoError(t, s.Delete(ctx, "directoryHandle"))
	_, ok, err = s.Get(ctx, "directoryHandle")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := settings.Open(zaptest.NewLogger(t), " ")
	require.Error(t, err)
}
