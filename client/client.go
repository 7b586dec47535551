package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/foomo/templatestore/pkg/handler"
	"github.com/foomo/templatestore/pkg/template"
	"github.com/foomo/templatestore/requests"
	"github.com/foomo/templatestore/responses"
	"github.com/pkg/errors"
)

type (
	// Client a template store client
	Client struct {
		t transport
	}
	Option func(*options)
	options struct {
		httpClient *http.Client
	}
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

// NewHTTPClient returns a client for the template store served at server,
// e.g. http://localhost:8080/templates
func NewHTTPClient(server string, opts ...Option) (*Client, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, errors.Wrap(err, "invalid server url")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Errorf("invalid server url %q", server)
	}
	o := &options{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Client{t: NewHTTPTransport(server, o.httpClient)}, nil
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithHTTPClient(v *http.Client) Option {
	return func(o *options) {
		o.httpClient = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// GetAll returns all templates, newest first
func (c *Client) GetAll(ctx context.Context) ([]template.Template, error) {
	response := &responses.Templates{}
	err := c.call(ctx, handler.RouteGetAll, struct{}{}, response)
	return response.Templates, err
}

// Get returns nil if the template does not exist
func (c *Client) Get(ctx context.Context, id string) (*template.Template, error) {
	response := &responses.Template{}
	err := c.call(ctx, handler.RouteGet, &requests.Get{ID: id}, response)
	return response.Template, err
}

func (c *Client) Save(ctx context.Context, draft template.Draft) (string, error) {
	response := &responses.Saved{}
	err := c.call(ctx, handler.RouteSave, &requests.Save{Template: draft}, response)
	return response.ID, err
}

func (c *Client) Update(ctx context.Context, id string, patch template.Patch) (bool, error) {
	response := &responses.Result{}
	err := c.call(ctx, handler.RouteUpdate, &requests.Update{ID: id, Patch: patch}, response)
	return response.OK, err
}

func (c *Client) Delete(ctx context.Context, id string) (bool, error) {
	response := &responses.Result{}
	err := c.call(ctx, handler.RouteDelete, &requests.Delete{ID: id}, response)
	return response.OK, err
}

func (c *Client) Clear(ctx context.Context) error {
	return c.call(ctx, handler.RouteClear, struct{}{}, nil)
}

// Find returns templates named exactly name, or the recent most recently
// updated ones when name is empty
func (c *Client) Find(ctx context.Context, name string, recent int) ([]template.Template, error) {
	response := &responses.Templates{}
	err := c.call(ctx, handler.RouteFind, &requests.Find{Name: name, Recent: recent}, response)
	return response.Templates, err
}

// Import uploads an export file and returns the number of imported templates
func (c *Client) Import(ctx context.Context, r io.Reader) (int, error) {
	response := &responses.Imported{}
	err := c.t.call(ctx, handler.RouteImport, r, response)
	return response.Count, err
}

// Export writes all templates to w and returns the file name suggested by the server
func (c *Client) Export(ctx context.Context, w io.Writer) (string, error) {
	return c.t.download(ctx, handler.RouteExport, w)
}

func (c *Client) Info(ctx context.Context) (*responses.Info, error) {
	response := &responses.Info{}
	err := c.call(ctx, handler.RouteInfo, struct{}{}, response)
	return response, err
}

// Migrate moves all templates to target and returns the bound backend
func (c *Client) Migrate(ctx context.Context, target string) (string, error) {
	response := &responses.Migrated{}
	err := c.call(ctx, handler.RouteMigrate, &requests.Migrate{Target: target}, response)
	return response.Type, err
}

func (c *Client) RequestDirectory(ctx context.Context) (*responses.Directory, error) {
	response := &responses.Directory{}
	err := c.call(ctx, handler.RouteRequestDirectory, struct{}{}, response)
	return response, err
}

func (c *Client) DirectoryName(ctx context.Context) (*responses.Directory, error) {
	response := &responses.Directory{}
	err := c.call(ctx, handler.RouteDirectoryName, struct{}{}, response)
	return response, err
}

func (c *Client) ShutDown() {
	c.t.shutdown()
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (c *Client) call(ctx context.Context, route handler.Route, request, response interface{}) error {
	requestBytes, err := json.Marshal(request)
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}
	return c.t.call(ctx, route, bytes.NewReader(requestBytes), response)
}
