package client

import (
	"context"
	"io"

	"github.com/foomo/templatestore/pkg/handler"
)

type transport interface {
	// call posts body to route and decodes the reply into response
	call(ctx context.Context, route handler.Route, body io.Reader, response interface{}) error
	// download streams a GET of route into w and returns the suggested file name
	download(ctx context.Context, route handler.Route, w io.Writer) (string, error)
	shutdown()
}
