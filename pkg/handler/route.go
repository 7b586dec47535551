package handler

// Route type
type Route string

const (
	// RouteGetAll list all templates, newest first
	RouteGetAll Route = "getAll"
	// RouteGet get a single template
	RouteGet Route = "get"
	// RouteSave store a new template
	RouteSave Route = "save"
	// RouteUpdate patch a template
	RouteUpdate Route = "update"
	// RouteDelete delete a template
	RouteDelete Route = "delete"
	// RouteClear delete all templates
	RouteClear Route = "clear"
	// RouteFind find templates by name or recency
	RouteFind Route = "find"
	// RouteImport import an export file, the request body is the file
	RouteImport Route = "import"
	// RouteExport download all templates as an export file
	RouteExport Route = "export"
	// RouteInfo storage usage
	RouteInfo Route = "info"
	// RouteMigrate move templates to another backend
	RouteMigrate Route = "migrate"
	// RouteRequestDirectory ask for a new template directory
	RouteRequestDirectory Route = "requestDirectory"
	// RouteDirectoryName name of the granted template directory
	RouteDirectoryName Route = "directoryName"
)
