package instance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	"github.com/nerrad567/gray-logic-modkit/internal/options"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
)

// Module is implemented by module authors. The runtime calls the lifecycle
// hooks from its lifecycle queue, one at a time.
type Module interface {
	// Init starts the module with the upgraded config. Returning an error
	// leaves the instance uninitialised.
	Init(ctx context.Context, config map[string]any) error

	// Destroy releases whatever Init acquired.
	Destroy(ctx context.Context) error

	// ConfigUpdated applies a new config to a running module.
	ConfigUpdated(ctx context.Context, config map[string]any) error

	// ConfigFields returns the config schema shown to the user.
	ConfigFields() []options.Field
}

// HTTPHandler is an optional Module capability for serving HTTP requests
// the host forwards to the instance.
type HTTPHandler interface {
	HandleHTTPRequest(ctx context.Context, req protocol.HTTPRequest) (protocol.HTTPResponse, error)
}

// HTTPHandlerFunc adapts a function to HTTPHandler.
type HTTPHandlerFunc func(ctx context.Context, req protocol.HTTPRequest) (protocol.HTTPResponse, error)

// HandleHTTPRequest calls f.
func (f HTTPHandlerFunc) HandleHTTPRequest(ctx context.Context, req protocol.HTTPRequest) (protocol.HTTPResponse, error) {
	return f(ctx, req)
}

// ServeHTTP adapts a net/http handler, such as a chi router, to HTTPHandler.
// The forwarded request is replayed against h and the recorded response is
// returned to the host.
func ServeHTTP(h http.Handler) HTTPHandler {
	return HTTPHandlerFunc(func(ctx context.Context, req protocol.HTTPRequest) (protocol.HTTPResponse, error) {
		r, err := toHTTPRequest(ctx, req)
		if err != nil {
			return protocol.HTTPResponse{}, err
		}

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		res := rec.Result()
		defer res.Body.Close()

		body, err := io.ReadAll(res.Body)
		if err != nil {
			return protocol.HTTPResponse{}, fmt.Errorf("reading response body: %w", err)
		}

		headers := make(map[string]string, len(res.Header))
		for k := range res.Header {
			headers[k] = res.Header.Get(k)
		}
		return protocol.HTTPResponse{
			Status:  res.StatusCode,
			Headers: headers,
			Body:    string(body),
		}, nil
	})
}

func toHTTPRequest(ctx context.Context, req protocol.HTTPRequest) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	path := req.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u := &url.URL{Path: path}
	if len(req.Query) > 0 {
		q := make(url.Values, len(req.Query))
		for k, v := range req.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	r, err := http.NewRequestWithContext(ctx, method, u.String(), strings.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("building http request: %w", err)
	}
	for k, v := range req.Headers {
		r.Header.Set(k, v)
	}
	return r, nil
}
