package client

import (
	"context"
	"io"
	"mime"
	"net/http"

	"github.com/foomo/templatestore/pkg/handler"
	"github.com/foomo/templatestore/responses"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type (
	httpTransport struct {
		client   *http.Client
		endpoint string
	}
	envelope struct {
		Reply jsoniter.RawMessage `json:"reply"`
	}
)

// NewHTTPTransport will create a new http transport for the given server and client.
// Caution: the provided server url is not validated!
func NewHTTPTransport(server string, client *http.Client) transport {
	return &httpTransport{
		endpoint: server,
		client:   client,
	}
}

func (ht *httpTransport) shutdown() {
	ht.client.CloseIdleConnections()
}

func (ht *httpTransport) call(ctx context.Context, route handler.Route, body io.Reader, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ht.endpoint+"/"+string(route), body)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	httpResponse, err := ht.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer httpResponse.Body.Close()

	responseBytes, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}
	var env envelope
	if err := json.Unmarshal(responseBytes, &env); err != nil {
		return errors.Errorf("unexpected reply with status %d: %s", httpResponse.StatusCode, string(responseBytes))
	}
	if httpResponse.StatusCode != http.StatusOK {
		replyErr := &responses.Error{}
		if err := json.Unmarshal(env.Reply, replyErr); err != nil {
			return errors.Wrapf(err, "failed to decode error reply with status %d", httpResponse.StatusCode)
		}
		return replyErr
	}
	if response == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(env.Reply, response), "failed to decode reply")
}

func (ht *httpTransport) download(ctx context.Context, route handler.Route, w io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ht.endpoint+"/"+string(route), nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to create request")
	}
	httpResponse, err := ht.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to send request")
	}
	defer httpResponse.Body.Close()
	if httpResponse.StatusCode != http.StatusOK {
		return "", errors.Errorf("non 200 reply: %d", httpResponse.StatusCode)
	}
	var filename string
	if _, params, err := mime.ParseMediaType(httpResponse.Header.Get("Content-Disposition")); err == nil {
		filename = params["filename"]
	}
	if _, err := io.Copy(w, httpResponse.Body); err != nil {
		return "", errors.Wrap(err, "failed to read export")
	}
	return filename, nil
}
