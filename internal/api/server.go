package api

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// jsonSerializer swaps echo's encoding/json for goccy/go-json.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	if err := json.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err)).SetInternal(err)
	}
	return nil
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family: sans-serif; margin: 24px;">
<h1>{{.Title}}</h1>
<p>{{.Summary.Rows}} rows, {{.Plotted}} series plotted.</p>
<img src="/chart.png" alt="{{.Title}}">
<p><button onclick="fetch('/api/dismiss', {method: 'POST', headers: {'X-Viewer-Token': '{{.Token}}'}}).then(() => window.close())">Close</button></p>
</body>
</html>
`

type pageRenderer struct {
	tmpl *template.Template
}

func (p *pageRenderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return p.tmpl.ExecuteTemplate(w, name, data)
}

func newPageRenderer() *pageRenderer {
	return &pageRenderer{tmpl: template.Must(template.New("index").Parse(indexHTML))}
}

// NewServer builds the viewer's echo instance around h.
func NewServer(h *Handler, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.IdleTimeout = 60 * time.Second
	e.Logger.SetLevel(log.WARN)
	e.JSONSerializer = jsonSerializer{}
	e.Renderer = newPageRenderer()

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOriginFunc: loopbackOrigin,
		AllowMethods:    []string{http.MethodGet, http.MethodPost},
		AllowHeaders:    []string{echo.HeaderContentType, HeaderViewerToken},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(50))))

	h.RegisterRoutes(e)
	return e
}

// loopbackOrigin admits pages served from this machine only.
func loopbackOrigin(origin string) (bool, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return false, nil
	}
	host := u.Hostname()
	if host == "localhost" {
		return true, nil
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback(), nil
}

// viewerURL is the address a browser should open for a bound listener.
func viewerURL(a net.Addr) string {
	host, port, err := net.SplitHostPort(a.String())
	if err != nil {
		return "http://" + a.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// Serve binds addr, reports the viewer URL to ready, and runs e until the
// viewer is dismissed or ctx is cancelled. Both endings return nil.
func Serve(ctx context.Context, e *echo.Echo, h *Handler, addr string, ready func(url string)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	e.Listener = ln
	if ready != nil {
		ready(viewerURL(ln.Addr()))
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := e.Start(ln.Addr().String()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	case <-h.Dismissed():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown viewer: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	return nil
}
