package api

import (
	"bytes"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"covidplot/internal/engine"
	"covidplot/internal/models"
	"covidplot/internal/render"

	"github.com/apache/arrow/go/v18/arrow/ipc"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testStore() *engine.ColumnStore {
	d1 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	nan := math.NaN()
	return &engine.ColumnStore{
		Dates:             []time.Time{d1, d2, d1, d2},
		LocationIDs:       []int32{0, 0, 1, 1},
		LocationDict:      []string{"Germany", "United States"},
		TotalCases:        []float64{50, 60, 100, 120},
		NewCases:          []float64{5, 10, 10, 20},
		TotalDeaths:       []float64{1, 1, 2, 2},
		NewDeaths:         []float64{0, 0, 0, 0},
		TotalVaccinations: []float64{nan, nan, nan, nan},
		PeopleVaccinated:  []float64{nan, nan, nan, nan},
		Population:        []float64{83e6, 83e6, 331e6, 331e6},
	}
}

func newTestServer(t *testing.T, withData bool) (*echo.Echo, *Handler) {
	t.Helper()
	h := NewHandler(render.DefaultOptions())
	if withData {
		require.NoError(t, h.SetData(testStore()))
	}
	return NewServer(h, zap.NewNop()), h
}

func do(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestLoadingReturns503(t *testing.T) {
	e, _ := newTestServer(t, false)

	for _, target := range []string{"/", "/chart.png", "/api/summary", "/api/series", "/api/latest", "/api/frame.arrows"} {
		rec := do(e, http.MethodGet, target)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
}

func TestGetSummary(t *testing.T) {
	e, _ := newTestServer(t, true)

	rec := do(e, http.MethodGet, "/api/summary")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary models.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 4, summary.Rows)
	assert.Equal(t, engine.KeyColumns, summary.Columns)
}

func TestGetSeriesPagination(t *testing.T) {
	e, _ := newTestServer(t, true)

	rec := do(e, http.MethodGet, "/api/series?limit=2&offset=3")
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Data   []models.Series `json:"data"`
		Total  int             `json:"total"`
		Limit  int             `json:"limit"`
		Offset int             `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, len(engine.Locations), page.Total)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "Germany", page.Data[0].Location)
	assert.Len(t, page.Data[0].Points, 2)
	assert.Equal(t, "Kenya", page.Data[1].Location)
	assert.Empty(t, page.Data[1].Points)

	rec = do(e, http.MethodGet, "/api/series?offset=99")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetLatest(t *testing.T) {
	e, _ := newTestServer(t, true)

	rec := do(e, http.MethodGet, "/api/latest")
	require.Equal(t, http.StatusOK, rec.Code)

	var latest []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	require.Len(t, latest, 2)
	assert.Equal(t, "Germany", latest[0]["location"])
	assert.EqualValues(t, 60, latest[0]["total_cases"])
	assert.Nil(t, latest[0]["total_vaccinations"])
}

func TestGetChartAndIndex(t *testing.T) {
	e, _ := newTestServer(t, true)

	rec := do(e, http.MethodGet, "/chart.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = do(e, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Total COVID-19 Cases by Country")
	assert.Contains(t, rec.Body.String(), "2 series plotted")
}

func TestGetFrame(t *testing.T) {
	e, _ := newTestServer(t, true)

	rec := do(e, http.MethodGet, "/api/frame.arrows")
	require.Equal(t, http.StatusOK, rec.Code)

	r, err := ipc.NewReader(rec.Body)
	require.NoError(t, err)
	defer r.Release()
	require.True(t, r.Next())
	assert.EqualValues(t, 4, r.Record().NumRows())
}

func dismiss(e *echo.Echo, token, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/dismiss", nil)
	if token != "" {
		req.Header.Set(HeaderViewerToken, token)
	}
	if origin != "" {
		req.Header.Set(echo.HeaderOrigin, origin)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestPostDismiss(t *testing.T) {
	e, h := newTestServer(t, false)

	rec := dismiss(e, h.Token(), "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-h.Dismissed():
	default:
		t.Fatal("expected viewer to be dismissed")
	}

	// a second dismiss must not panic on the closed channel
	rec = dismiss(e, h.Token(), "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestPostDismissRequiresToken(t *testing.T) {
	e, h := newTestServer(t, true)

	for _, token := range []string{"", "wrong", h.Token() + "x"} {
		rec := dismiss(e, token, "http://evil.example")
		assert.Equal(t, http.StatusForbidden, rec.Code, "token %q", token)
	}

	select {
	case <-h.Dismissed():
		t.Fatal("viewer dismissed without a valid token")
	default:
	}

	assert.NotEqual(t, h.Token(), NewHandler(render.DefaultOptions()).Token())
}

func TestIndexCarriesToken(t *testing.T) {
	e, h := newTestServer(t, true)

	rec := do(e, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), h.Token())
}

func TestCORSOnlyAllowsLoopback(t *testing.T) {
	e, h := newTestServer(t, true)

	for origin, allowed := range map[string]bool{
		"http://localhost:8050":   true,
		"http://127.0.0.1:8050":   true,
		"http://[::1]:8050":       true,
		"http://evil.example":     false,
		"https://localhost.evil":  false,
		"http://127.0.0.1.nip.io": false,
	} {
		req := httptest.NewRequest(http.MethodOptions, "/api/dismiss", nil)
		req.Header.Set(echo.HeaderOrigin, origin)
		req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin)
		if allowed {
			assert.Equal(t, origin, got, "origin %s", origin)
		} else {
			assert.Empty(t, got, "origin %s", origin)
		}
	}

	select {
	case <-h.Dismissed():
		t.Fatal("preflight must not dismiss the viewer")
	default:
	}
}

func TestSetDataEmptyStore(t *testing.T) {
	h := NewHandler(render.DefaultOptions())
	require.NoError(t, h.SetData(&engine.ColumnStore{}))

	data, _, chart := h.snapshot()
	require.NotNil(t, data)
	assert.Equal(t, 0, data.Summary.Rows)
	assert.NotEmpty(t, chart)
}
