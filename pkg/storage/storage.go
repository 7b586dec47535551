package storage

import (
	"context"
	"math"

	"github.com/foomo/templatestore/pkg/template"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Type identifies a driver implementation
type Type string

const (
	TypeFilesystem Type = "filesystem"
	TypeDatabase   Type = "database"
	TypeKeyValue   Type = "keyvalue"
)

// Unbounded is reported as Info.Available when a backend has no known limit
const Unbounded int64 = math.MaxInt64

// Types lists all known driver types in descending selection priority
var Types = []Type{TypeFilesystem, TypeDatabase, TypeKeyValue}

// ParseType returns the driver type for s
func ParseType(s string) (Type, bool) {
	for _, t := range Types {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

type (
	// Driver defines the contract every template persistence backend implements.
	// Implementations must be safe for concurrent use and serialize their own
	// mutations.
	Driver interface {
		// Type returns the driver identity.
		Type() Type

		// IsSupported reports whether the underlying primitive is usable.
		// It must not mutate state.
		IsSupported(ctx context.Context) bool

		// Init prepares the driver. Calls after the first successful one are no-ops.
		Init(ctx context.Context) error

		// GetAll returns all templates sorted by CreatedAt descending.
		GetAll(ctx context.Context) ([]template.Template, error)

		// Save assigns id and timestamps to the draft and persists it.
		// Returns ErrUserDeclined if a required resource grant was refused.
		Save(ctx context.Context, draft template.Draft) (string, error)

		// Put stores t as is, replacing any record with the same id.
		Put(ctx context.Context, t template.Template) error

		// Update merges patch into the record and bumps UpdatedAt.
		// Returns false if no record with id exists.
		Update(ctx context.Context, id string, patch template.Patch) (bool, error)

		// Delete removes the record. Returns false if it did not exist.
		Delete(ctx context.Context, id string) (bool, error)

		// Get returns the record or nil if it does not exist.
		Get(ctx context.Context, id string) (*template.Template, error)

		// Clear removes all records owned by this driver.
		Clear(ctx context.Context) error

		// Info reports usage on a best effort basis.
		Info(ctx context.Context) (Info, error)

		// Close releases any resources held by the driver.
		Close() error
	}
	// DirectoryRequester is implemented by drivers that persist into a user
	// granted directory
	DirectoryRequester interface {
		RequestDirectory(ctx context.Context) (bool, error)
		DirectoryName() (string, bool)
	}
	// Info describes backend usage in bytes
	Info struct {
		Used       int64   `json:"used"`
		Available  int64   `json:"available"`
		Percentage float64 `json:"percentage"`
	}
)

// NewInfo computes the usage percentage for used out of available
func NewInfo(used, available int64) Info {
	info := Info{Used: used, Available: available}
	if available > 0 && available != Unbounded {
		info.Percentage = float64(used) / float64(available) * 100
	}
	return info
}
