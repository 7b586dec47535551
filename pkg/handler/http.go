package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	httputils "github.com/foomo/keel/utils/net/http"
	"github.com/foomo/templatestore/pkg/manager"
	"github.com/foomo/templatestore/pkg/metrics"
	"github.com/foomo/templatestore/pkg/storage"
	"github.com/foomo/templatestore/pkg/template"
	"github.com/foomo/templatestore/requests"
	"github.com/foomo/templatestore/responses"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type (
	HTTP struct {
		l       *zap.Logger
		path    string
		manager *manager.Manager
	}
	HTTPOption func(*HTTP)
)

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

// NewHTTP returns a handler exposing the template store under a base path
func NewHTTP(l *zap.Logger, m *manager.Manager, opts ...HTTPOption) http.Handler {
	inst := &HTTP{
		l:       l.Named("http"),
		path:    "/templates",
		manager: m,
	}

	for _, opt := range opts {
		opt(inst)
	}

	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithBasePath(v string) HTTPOption {
	return func(o *HTTP) {
		o.path = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

func (h *HTTP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := Route(strings.TrimPrefix(r.URL.Path, h.path+"/"))
	if route == RouteExport && r.Method == http.MethodGet {
		h.export(w, r)
		return
	}
	if r.Method != http.MethodPost {
		httputils.ServerError(h.l, w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	if r.Body == nil {
		httputils.BadRequestServerError(h.l, w, r, errors.New("empty request body"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputils.BadRequestServerError(h.l, w, r, errors.Wrap(err, "failed to read incoming request"))
		return
	}

	status, reply, err := h.handleRequest(r.Context(), route, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(reply)
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (h *HTTP) handleRequest(ctx context.Context, route Route, jsonBytes []byte) (int, []byte, error) {
	start := time.Now()

	status, reply, err := h.executeRequest(ctx, route, jsonBytes)
	result := "success"
	if err != nil || status != http.StatusOK {
		result = "error"
	}

	metrics.ServiceRequestCounter.WithLabelValues(string(route), result).Inc()
	metrics.ServiceRequestDuration.WithLabelValues(string(route), result).Observe(time.Since(start).Seconds())

	return status, reply, err
}

func (h *HTTP) executeRequest(ctx context.Context, route Route, jsonBytes []byte) (int, []byte, error) {
	var (
		reply             interface{}
		apiErr            error
		jsonErr           error
		processIfJSONIsOk = func(err error, processingFunc func()) {
			if err != nil {
				jsonErr = err
				return
			}
			processingFunc()
		}
	)

	switch route {
	case RouteGetAll:
		templates, err := h.manager.GetAllTemplates(ctx)
		reply, apiErr = &responses.Templates{Templates: templates}, err
	case RouteGet:
		req := &requests.Get{}
		processIfJSONIsOk(json.Unmarshal(jsonBytes, req), func() {
			t, err := h.manager.GetTemplate(ctx, req.ID)
			reply, apiErr = &responses.Template{Template: t}, err
		})
	case RouteSave:
		req := &requests.Save{}
		processIfJSONIsOk(json.Unmarshal(jsonBytes, req), func() {
			id, err := h.manager.SaveTemplate(ctx, req.Template)
			reply, apiErr = &responses.Saved{ID: id}, err
		})
	case RouteUpdate:
		req := &requests.Update{}
		processIfJSONIsOk(json.Unmarshal(jsonBytes, req), func() {
			ok, err := h.manager.UpdateTemplate(ctx, req.ID, req.Patch)
			reply, apiErr = &responses.Result{OK: ok}, err
		})
	case RouteDelete:
		req := &requests.Delete{}
		processIfJSONIsOk(json.Unmarshal(jsonBytes, req), func() {
			ok, err := h.manager.DeleteTemplate(ctx, req.ID)
			reply, apiErr = &responses.Result{OK: ok}, err
		})
	case RouteClear:
		apiErr = h.manager.ClearAllTemplates(ctx)
		reply = &responses.Result{OK: apiErr == nil}
	case RouteFind:
		req := &requests.Find{}
		processIfJSONIsOk(json.Unmarshal(jsonBytes, req), func() {
			var templates []template.Template
			var err error
			if req.Name != "" {
				templates, err = h.manager.FindTemplatesByName(ctx, req.Name)
			} else {
				templates, err = h.manager.RecentTemplates(ctx, req.Recent)
			}
			reply, apiErr = &responses.Templates{Templates: templates}, err
		})
	case RouteImport:
		n, err := h.manager.ImportTemplates(ctx, bytes.NewReader(jsonBytes))
		reply, apiErr = &responses.Imported{Count: n}, err
	case RouteInfo:
		info, err := h.manager.StorageInfo(ctx)
		reply, apiErr = &info, err
	case RouteMigrate:
		req := &requests.Migrate{}
		processIfJSONIsOk(json.Unmarshal(jsonBytes, req), func() {
			apiErr = h.manager.Migrate(ctx, storage.Type(req.Target))
			reply = &responses.Migrated{Type: string(h.manager.StorageType())}
		})
	case RouteRequestDirectory:
		granted, err := h.manager.RequestFileSystemDirectory(ctx)
		name, _ := h.manager.FileSystemDirectoryName(ctx)
		reply, apiErr = &responses.Directory{Granted: granted, Name: name}, err
	case RouteDirectoryName:
		name, ok := h.manager.FileSystemDirectoryName(ctx)
		reply = &responses.Directory{Granted: ok, Name: name}
	default:
		reply = responses.NewStatusError(http.StatusNotFound, responses.CodeUnknownRoute, "unknown handler: "+string(route))
	}

	// error handling
	if jsonErr != nil {
		h.l.Error("could not read incoming json", zap.Error(jsonErr))
		reply = responses.NewStatusError(http.StatusBadRequest, responses.CodeInvalidJSON, "could not read incoming json "+jsonErr.Error())
	} else if apiErr != nil {
		reply = h.apiError(route, apiErr)
	}

	status := http.StatusOK
	if e, ok := reply.(*responses.Error); ok {
		status = e.Status
	}
	body, err := h.encodeReply(reply)
	return status, body, err
}

// apiError maps storage errors to distinct error codes
func (h *HTTP) apiError(route Route, err error) *responses.Error {
	var e *responses.Error
	switch {
	case errors.Is(err, storage.ErrQuotaExceeded):
		e = responses.NewStatusError(http.StatusInsufficientStorage, responses.CodeQuotaExceeded, err.Error())
	case errors.Is(err, storage.ErrUserDeclined):
		e = responses.NewStatusError(http.StatusConflict, responses.CodeDeclined, err.Error())
	case errors.Is(err, storage.ErrMalformedImport):
		e = responses.NewStatusError(http.StatusBadRequest, responses.CodeMalformedImport, err.Error())
	case errors.Is(err, template.ErrInvalid):
		e = responses.NewStatusError(http.StatusBadRequest, responses.CodeInvalidTemplate, err.Error())
	case errors.Is(err, manager.ErrNoBackend):
		e = responses.NewStatusError(http.StatusServiceUnavailable, responses.CodeNoBackend, err.Error())
	case errors.Is(err, manager.ErrUnknownBackend):
		e = responses.NewStatusError(http.StatusBadRequest, responses.CodeUnknownBackend, err.Error())
	default:
		h.l.Error("an API error occurred", zap.String("route", string(route)), zap.Error(err))
		return responses.NewError(responses.CodeInternal, "internal error "+err.Error())
	}
	h.l.Info("request rejected", zap.String("route", string(route)), zap.Error(err))
	return e
}

// export streams the whole collection as a download
func (h *HTTP) export(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := "success"
	defer func() {
		metrics.ServiceRequestCounter.WithLabelValues(string(RouteExport), result).Inc()
		metrics.ServiceRequestDuration.WithLabelValues(string(RouteExport), result).Observe(time.Since(start).Seconds())
	}()

	var buf bytes.Buffer
	if err := h.manager.ExportTemplates(r.Context(), &buf); err != nil {
		result = "error"
		httputils.ServerError(h.l, w, r, http.StatusInternalServerError, errors.Wrap(err, "failed to export templates"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", storage.ExportFileName(time.Now())))
	_, _ = w.Write(buf.Bytes())
}

// encodeReply takes an interface and encodes it as JSON
// it returns the resulting JSON and a marshalling error
func (h *HTTP) encodeReply(reply interface{}) (bytes []byte, err error) {
	bytes, err = json.Marshal(map[string]interface{}{
		"reply": reply,
	})
	if err != nil {
		h.l.Error("could not encode reply", zap.Error(err))
	}
	return
}
