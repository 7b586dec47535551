package storage_test

import (
	"testing"

	"github.com/foomo/templatestore/pkg/storage"
	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	for in, want := range map[int64]string{
		-1:                "0 B",
		0:                 "0 B",
		1:                 "1.00 B",
		1023:              "1023.00 B",
		1024:              "1.00 KB",
		1536:              "1.50 KB",
		5 * 1024 * 1024:   "5.00 MB",
		3 << 30:           "3.00 GB",
		2048 << 30:        "2048.00 GB",
		storage.Unbounded: "∞",
	} {
		assert.Equal(t, want, storage.FormatBytes(in), in)
	}
}

func TestNewInfo(t *testing.T) {
	info := storage.NewInfo(512, 1024)
	assert.InDelta(t, 50.0, info.Percentage, 0.0001)

	info = storage.NewInfo(512, storage.Unbounded)
	assert.Zero(t, info.Percentage)

	info = storage.NewInfo(0, 0)
	assert.Zero(t, info.Percentage)
}

func TestParseType(t *testing.T) {
	for _, typ := range storage.Types {
		got, ok := storage.ParseType(string(typ))
		assert.True(t, ok)
		assert.Equal(t, typ, got)
	}
	_, ok := storage.ParseType("indexeddb")
	assert.False(t, ok)
}
