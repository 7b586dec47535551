package requests

import (
	"github.com/foomo/templatestore/pkg/template"
)

// Get - request a single template
type Get struct {
	ID string `json:"id"`
}

// Save - store a new template
type Save struct {
	Template template.Draft `json:"template"`
}

// Update - merge a patch into an existing template
type Update struct {
	ID    string         `json:"id"`
	Patch template.Patch `json:"patch"`
}

// Delete - remove a template
type Delete struct {
	ID string `json:"id"`
}

// Migrate - move the collection to another backend
type Migrate struct {
	// filesystem, database or keyvalue
	Target string `json:"target"`
}

// Find - look up templates by exact name or recency
type Find struct {
	Name string `json:"name,omitempty"`
	// most recently updated first, 0 for all
	Recent int `json:"recent,omitempty"`
}
