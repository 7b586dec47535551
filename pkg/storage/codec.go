package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/foomo/templatestore/pkg/template"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

const (
	ExportFilePrefix = "templates_"
	ExportFileSuffix = ".json"
)

// ExportFileName returns a timestamped, collision resistant name for an export
func ExportFileName(now time.Time) string {
	return fmt.Sprintf("%s%d_%s%s", ExportFilePrefix, now.UnixMilli(), uuid.New().String()[:8], ExportFileSuffix)
}

// Export writes the full collection of d as an indented JSON array
func Export(ctx context.Context, d Driver, w io.Writer) error {
	templates, err := d.GetAll(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read templates for export")
	}
	if templates == nil {
		templates = []template.Template{}
	}
	data, err := json.MarshalIndent(templates, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode templates")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "failed to write export")
	}
	return nil
}

// Import restores an export into d. The payload is validated as a whole
// before anything is written. Entries carrying an id keep it and their
// timestamps, so importing the same file twice does not duplicate records.
// Entries without an id are saved as new templates.
func Import(ctx context.Context, d Driver, r io.Reader) (int, error) {
	templates, err := DecodeImport(r)
	if err != nil {
		return 0, err
	}
	for i, t := range templates {
		if t.ID == "" {
			if _, err := d.Save(ctx, t.Draft()); err != nil {
				return i, errors.Wrapf(err, "failed to import template %d", i)
			}
			continue
		}
		if err := d.Put(ctx, t); err != nil {
			return i, errors.Wrapf(err, "failed to import template %s", t.ID)
		}
	}
	return len(templates), nil
}

// DecodeImport parses and validates an export payload
func DecodeImport(r io.Reader) ([]template.Template, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read import")
	}
	var raw []jsoniter.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(ErrMalformedImport, err.Error())
	}
	if raw == nil {
		// a literal null is not a sequence
		return nil, errors.Wrap(ErrMalformedImport, "expected a json array")
	}
	now := time.Now().UnixMilli()
	templates := make([]template.Template, 0, len(raw))
	for i, entry := range raw {
		var t template.Template
		if err := json.Unmarshal(entry, &t); err != nil {
			return nil, errors.Wrapf(ErrMalformedImport, "entry %d: %s", i, err.Error())
		}
		if t.ID == "" {
			err = t.Draft().Validate()
		} else {
			// drivers receive exactly what was validated here
			t = t.Normalize(now)
			err = t.Validate()
		}
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedImport, "entry %d: %s", i, err.Error())
		}
		templates = append(templates, t)
	}
	return templates, nil
}
