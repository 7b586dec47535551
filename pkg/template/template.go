// Package template holds the persisted template record and the rules for its
// identity and timestamps.
package template

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const idPrefix = "template_"

// ErrInvalid is wrapped by every validation failure of this package
var ErrInvalid = errors.New("invalid template")

type (
	// Template is one persisted design document. JSON is opaque to the storage
	// layer and never interpreted.
	Template struct {
		ID          string          `json:"id"`
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Thumbnail   string          `json:"thumbnail,omitempty"`
		JSON        json.RawMessage `json:"json"`
		CreatedAt   int64           `json:"createdAt"`
		UpdatedAt   int64           `json:"updatedAt"`
	}
	// Draft is a template that has not been assigned an identity yet
	Draft struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Thumbnail   string          `json:"thumbnail,omitempty"`
		JSON        json.RawMessage `json:"json"`
	}
	// Patch lists the fields to merge into an existing template. Nil fields
	// are left untouched.
	Patch struct {
		Name        *string         `json:"name,omitempty"`
		Description *string         `json:"description,omitempty"`
		Thumbnail   *string         `json:"thumbnail,omitempty"`
		JSON        json.RawMessage `json:"json,omitempty"`
	}
)

// NewID mints a template id that is never reused
func NewID() string {
	return idPrefix + uuid.New().String()
}

// ------------------------------------------------------------------------------------------------
// ~ Draft
// ------------------------------------------------------------------------------------------------

func (d Draft) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.Wrap(ErrInvalid, "name must not be empty")
	}
	return validatePayload(d.JSON)
}

// Materialize turns the draft into a fully formed template stamped at now
func (d Draft) Materialize(id string, now int64) Template {
	return Template{
		ID:          id,
		Name:        d.Name,
		Description: d.Description,
		Thumbnail:   d.Thumbnail,
		JSON:        clonePayload(d.JSON),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Template
// ------------------------------------------------------------------------------------------------

func (t Template) Validate() error {
	if err := ValidateID(t.ID); err != nil {
		return err
	}
	if strings.TrimSpace(t.Name) == "" {
		return errors.Wrapf(ErrInvalid, "template %s: name must not be empty", t.ID)
	}
	if t.CreatedAt < 0 || t.UpdatedAt < t.CreatedAt {
		return errors.Wrapf(ErrInvalid, "template %s: createdAt %d must not be after updatedAt %d", t.ID, t.CreatedAt, t.UpdatedAt)
	}
	return validatePayload(t.JSON)
}

// Draft strips the identity from the template
func (t Template) Draft() Draft {
	return Draft{
		Name:        t.Name,
		Description: t.Description,
		Thumbnail:   t.Thumbnail,
		JSON:        clonePayload(t.JSON),
	}
}

// Apply merges the patch into a copy of t and bumps UpdatedAt. UpdatedAt is
// always moved forward, even when now did not advance.
func (t Template) Apply(p Patch, now int64) (Template, error) {
	out := t
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Thumbnail != nil {
		out.Thumbnail = *p.Thumbnail
	}
	if p.JSON != nil {
		out.JSON = clonePayload(p.JSON)
	}
	if now <= t.UpdatedAt {
		now = t.UpdatedAt + 1
	}
	out.UpdatedAt = now
	if err := out.Validate(); err != nil {
		return t, err
	}
	return out, nil
}

// Normalize fills in missing timestamps of a restored record. Timestamps
// that are present are kept, so an inverted pair still fails Validate.
func (t Template) Normalize(now int64) Template {
	if t.CreatedAt <= 0 {
		t.CreatedAt = now
		if t.UpdatedAt > 0 && t.UpdatedAt < now {
			t.UpdatedAt = now
		}
	}
	if t.UpdatedAt <= 0 {
		t.UpdatedAt = t.CreatedAt
	}
	return t
}

// ValidateID rejects ids that can not be embedded in a file name or key
func ValidateID(id string) error {
	if id == "" {
		return errors.Wrap(ErrInvalid, "id must not be empty")
	}
	if len(id) > 200 {
		return errors.Wrapf(ErrInvalid, "id %q is too long", id[:32])
	}
	for _, r := range id {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return errors.Wrapf(ErrInvalid, "id %q contains illegal character %q", id, r)
		}
	}
	return nil
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func validatePayload(v json.RawMessage) error {
	if len(v) == 0 {
		return nil
	}
	if !json.Valid(v) {
		return errors.Wrap(ErrInvalid, "json payload is not valid json")
	}
	return nil
}

// clonePayload copies v. An absent payload is stored as a json null.
func clonePayload(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return json.RawMessage("null")
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
