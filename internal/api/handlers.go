package api

import (
	"bytes"
	"crypto/subtle"
	"net/http"
	"strconv"
	"sync"

	"covidplot/internal/engine"
	"covidplot/internal/models"
	"covidplot/internal/render"

	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// HeaderViewerToken carries the per-run token that POST /api/dismiss requires.
const HeaderViewerToken = "X-Viewer-Token"

type Handler struct {
	mu    sync.RWMutex
	data  *models.Dashboard
	store *engine.ColumnStore
	chart []byte
	opts  render.Options
	token string

	dismissOnce sync.Once
	dismissed   chan struct{}
}

// NewHandler returns a handler with no data; the API answers 503 until
// SetData succeeds.
func NewHandler(opts render.Options) *Handler {
	return &Handler{opts: opts, token: uuid.NewString(), dismissed: make(chan struct{})}
}

// Token is embedded in the index page; only that page can dismiss the viewer.
func (h *Handler) Token() string { return h.token }

// SetData aggregates the store and renders the chart once, then swaps both in.
func (h *Handler) SetData(store *engine.ColumnStore) error {
	data := store.Aggregate()

	var buf bytes.Buffer
	if err := render.PNG(&buf, data.Series, h.opts); err != nil {
		return err
	}

	h.mu.Lock()
	h.data, h.store, h.chart = data, store, buf.Bytes()
	h.mu.Unlock()
	return nil
}

func (h *Handler) snapshot() (*models.Dashboard, *engine.ColumnStore, []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.data, h.store, h.chart
}

// Dismiss closes the viewer. Safe to call more than once.
func (h *Handler) Dismiss() {
	h.dismissOnce.Do(func() { close(h.dismissed) })
}

func (h *Handler) Dismissed() <-chan struct{} { return h.dismissed }

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.GetIndex)
	e.GET("/chart.png", h.GetChart)

	api := e.Group("/api")
	api.GET("/summary", h.GetSummary)
	api.GET("/series", h.GetSeries)
	api.GET("/latest", h.GetLatest)
	api.GET("/frame.arrows", h.GetFrame)
	api.POST("/dismiss", h.PostDismiss)
}

// --- HANDLERS ---
func getPaginationParams(c echo.Context, defaultLimit int) (int, int) {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = defaultLimit
	}
	offset, err := strconv.Atoi(c.QueryParam("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func loading(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "data is still loading"})
}

type indexPage struct {
	Title   string
	Summary models.Summary
	Plotted int
	Token   string
}

func (h *Handler) GetIndex(c echo.Context) error {
	data, _, _ := h.snapshot()
	if data == nil {
		return loading(c)
	}
	return c.Render(http.StatusOK, "index", indexPage{
		Title:   h.opts.Title,
		Summary: data.Summary,
		Plotted: render.Plotted(data.Series),
		Token:   h.token,
	})
}

func (h *Handler) GetChart(c echo.Context) error {
	_, _, chart := h.snapshot()
	if chart == nil {
		return loading(c)
	}
	return c.Blob(http.StatusOK, "image/png", chart)
}

func (h *Handler) GetSummary(c echo.Context) error {
	data, _, _ := h.snapshot()
	if data == nil {
		return loading(c)
	}
	return c.JSON(http.StatusOK, data.Summary)
}

// one entry per allow-listed location, including empty ones
func (h *Handler) GetSeries(c echo.Context) error {
	data, _, _ := h.snapshot()
	if data == nil {
		return loading(c)
	}
	series := data.Series
	total := len(series)
	limit, offset := getPaginationParams(c, total)

	if offset >= total {
		return c.JSON(http.StatusOK, []models.Series{})
	}

	end := offset + limit
	if end > total {
		end = total
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":   series[offset:end],
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) GetLatest(c echo.Context) error {
	data, _, _ := h.snapshot()
	if data == nil {
		return loading(c)
	}
	return c.JSON(http.StatusOK, data.Latest)
}

func (h *Handler) GetFrame(c echo.Context) error {
	_, store, _ := h.snapshot()
	if store == nil {
		return loading(c)
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/vnd.apache.arrow.stream")
	res.WriteHeader(http.StatusOK)
	return store.WriteIPC(res, memory.DefaultAllocator)
}

func (h *Handler) PostDismiss(c echo.Context) error {
	got := c.Request().Header.Get(HeaderViewerToken)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "invalid viewer token"})
	}
	h.Dismiss()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "dismissed"})
}
