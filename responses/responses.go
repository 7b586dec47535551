package responses

import (
	"github.com/foomo/templatestore/pkg/manager"
	"github.com/foomo/templatestore/pkg/template"
)

// Templates - a list of templates, newest first
type Templates struct {
	Templates []template.Template `json:"templates"`
}

// Template - a single template, nil if it does not exist
type Template struct {
	Template *template.Template `json:"template"`
}

// Saved - the id of a new template
type Saved struct {
	ID string `json:"id"`
}

// Result - whether an update or delete found its template
type Result struct {
	OK bool `json:"ok"`
}

// Imported - number of imported templates
type Imported struct {
	Count int `json:"count"`
}

// Info - usage of the bound backend
type Info = manager.StorageInfo

// Migrated - the backend bound after a migration
type Migrated struct {
	Type string `json:"type"`
}

// Directory - the granted template directory
type Directory struct {
	Granted bool   `json:"granted"`
	Name    string `json:"name,omitempty"`
}
