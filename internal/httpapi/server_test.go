package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parlapi/internal/catalog"
	"github.com/roach88/parlapi/internal/querysql"
	"github.com/roach88/parlapi/internal/resource"
	"github.com/roach88/parlapi/internal/store"
	"github.com/roach88/parlapi/internal/testutil"
)

type apiFixture struct {
	handler http.Handler
	reg     *prometheus.Registry
}

func newAPI(t *testing.T, project string) *apiFixture {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	db := testutil.OpenDB(t, cat.Tables()...)
	clock := testutil.NewDeterministicClock(testutil.Epoch)
	registry, err := catalog.Build(db, cat, catalog.BuildOptions{Now: clock.Now})
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	srv, err := New(Config{
		Registry: registry,
		Project:  project,
		Metrics:  NewMetrics(promReg),
		Gatherer: promReg,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return &apiFixture{handler: srv.Handler(), reg: promReg}
}

func (f *apiFixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type resultBody struct {
	Keys  []any `json:"keys"`
	Count int64 `json:"count"`
}

func TestCRUD(t *testing.T) {
	api := newAPI(t, "cz")

	rec := api.do(t, http.MethodPost, "/cz/Mp", `{"first_name": "Jan", "last_name": "Novák"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[resultBody](t, rec)
	assert.Equal(t, []any{1.0}, res.Keys)
	assert.Equal(t, int64(1), res.Count)

	rec = api.do(t, http.MethodGet, "/cz/Mp?last_name="+url.QueryEscape("Novák"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	rows := decode[[]map[string]any](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "Jan", rows[0]["first_name"])
	assert.Nil(t, rows[0]["middle_names"])

	rec = api.do(t, http.MethodPut, "/cz/Mp?id=1", `{"first_name": "Petr"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []any{1.0}, decode[resultBody](t, rec).Keys)

	rec = api.do(t, http.MethodGet, "/cz/mp?id=1", "")
	rows = decode[[]map[string]any](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "Petr", rows[0]["first_name"])

	rec = api.do(t, http.MethodDelete, "/cz/Mp?id=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{1.0}, decode[resultBody](t, rec).Keys)

	rec = api.do(t, http.MethodGet, "/cz/Mp", "")
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestNullToken(t *testing.T) {
	api := newAPI(t, "")
	api.do(t, http.MethodPost, "/cz/Mp", `[
		{"first_name": "Jan", "last_name": "Novák"},
		{"first_name": "Jan", "middle_names": "Karel", "last_name": "Dvořák"}
	]`)

	rec := api.do(t, http.MethodGet, `/cz/Mp?middle_names=\N`, "")
	rows := decode[[]map[string]any](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "Novák", rows[0]["last_name"])

	rec = api.do(t, http.MethodGet, "/cz/Mp?first_name=Jan&_limit=1&_offset=1", "")
	rows = decode[[]map[string]any](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "Dvořák", rows[0]["last_name"])
}

func TestCreateBatchIsAtomic(t *testing.T) {
	api := newAPI(t, "")

	rec := api.do(t, http.MethodPost, "/cz/Mp", `[
		{"first_name": "Jan", "last_name": "Novák"},
		{"first_name": "Petr"}
	]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, decode[errorBody](t, rec).Error, "row 2")

	rec = api.do(t, http.MethodGet, "/cz/Mp", "")
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestErrors(t *testing.T) {
	api := newAPI(t, "cz")

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
		want   string
	}{
		{"read-only column", http.MethodPost, "/cz/Mp", `{"id": 5, "last_name": "X", "first_name": "Y"}`, http.StatusBadRequest, "read-only"},
		{"unknown format", http.MethodGet, "/cz/Mp?_format=php", "", http.StatusBadRequest, "unknown format"},
		{"unknown resource", http.MethodGet, "/cz/Nope", "", http.StatusNotFound, "not found"},
		{"other project", http.MethodGet, "/sk/Mp", "", http.StatusNotFound, "not found"},
		{"unsupported operation", http.MethodDelete, "/cz/Role?code=x", "", http.StatusMethodNotAllowed, "not supported"},
		{"unsupported method", http.MethodPatch, "/cz/Mp", "", http.StatusMethodNotAllowed, "not supported"},
		{"empty body", http.MethodPost, "/cz/Mp", "", http.StatusBadRequest, "empty body"},
		{"bad json", http.MethodPost, "/cz/Mp", `{"a":`, http.StatusBadRequest, "invalid request body"},
		{"array for update", http.MethodPut, "/cz/Mp?id=1", `[{}]`, http.StatusBadRequest, "expected an object"},
		{"nothing to set", http.MethodPut, "/cz/Mp?id=1", `{"bogus": 1}`, http.StatusBadRequest, "no writable columns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode[errorBody](t, rec)
			assert.Contains(t, body.Error, tt.want)
			assert.Equal(t, tt.status, body.Status)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestRequestID(t *testing.T) {
	api := newAPI(t, "")

	rec := api.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "scraper-42")
	out := httptest.NewRecorder()
	api.handler.ServeHTTP(out, req)
	assert.Equal(t, "scraper-42", out.Header().Get(RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	api := newAPI(t, "")
	api.do(t, http.MethodGet, "/cz/Mp", "")
	api.do(t, http.MethodGet, "/cz/Nope", "")

	rec := api.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `parlapi_http_requests_total{code="200",method="GET"} 1`)
	assert.Contains(t, rec.Body.String(), `parlapi_http_requests_total{code="404",method="GET"} 1`)
}

func TestIndex(t *testing.T) {
	api := newAPI(t, "")
	rec := api.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	entries := decode[[]indexEntry](t, rec)
	require.NotEmpty(t, entries)
	byName := map[string][]resource.Op{}
	for _, e := range entries {
		byName[e.Resource] = e.Ops
	}
	assert.Equal(t, []resource.Op{resource.OpRead, resource.OpCreate}, byName["Role"])
	assert.Contains(t, byName, "MpAttribute")
}

func TestAttributeHistory(t *testing.T) {
	api := newAPI(t, "")
	api.do(t, http.MethodPost, "/cz/Mp", `{"first_name": "Jan", "last_name": "Novák"}`)

	rec := api.do(t, http.MethodPost, "/cz/MpAttribute", `[
		{"mp_id": 1, "name": "email", "value": "old@psp.cz", "since": "2006-06-03T00:00:00Z", "until": "2010-05-29T00:00:00Z"},
		{"mp_id": 1, "name": "email", "value": "new@psp.cz", "since": "2010-05-29T00:00:00Z", "until": "9999-12-31T23:59:59Z"}
	]`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[resultBody](t, rec)
	require.Len(t, res.Keys, 2)
	key := res.Keys[0].(map[string]any)
	assert.Equal(t, "email", key["name"])

	for at, want := range map[string]string{
		"2008-01-01":           "old@psp.cz",
		"2010-05-29T00:00:00Z": "new@psp.cz",
		"now":                  "new@psp.cz",
	} {
		rec = api.do(t, http.MethodGet, "/cz/MpAttribute?mp_id=1&datetime="+url.QueryEscape(at), "")
		rows := decode[[]map[string]any](t, rec)
		require.Len(t, rows, 1, at)
		assert.Equal(t, want, rows[0]["value"], at)
	}
}

func TestFormats(t *testing.T) {
	api := newAPI(t, "")
	api.do(t, http.MethodPost, "/cz/Mp", `{"first_name": "Jan", "last_name": "Novák"}`)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))

	rec := api.do(t, http.MethodGet, "/cz/Mp?_format=csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	g.Assert(t, "mp_csv", rec.Body.Bytes())

	rec = api.do(t, http.MethodGet, "/cz/Mp?_format=xml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	g.Assert(t, "mp_xml", rec.Body.Bytes())

	rec = api.do(t, http.MethodPost, "/cz/Mp?_format=csv", `{"first_name": "Eva", "last_name": "Svobodová"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "key\n2\n", rec.Body.String())

	rec = api.do(t, http.MethodDelete, "/cz/Mp?_format=xml&id=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<result count="1">`)
	assert.Contains(t, rec.Body.String(), `<column name="key">2</column>`)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("x: %w", resource.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", resource.ErrUnsupported), http.StatusMethodNotAllowed},
		{&FormatError{Format: "php"}, http.StatusBadRequest},
		{&BodyError{Err: errors.New("x")}, http.StatusBadRequest},
		{fmt.Errorf("create mp: %w", &querysql.DataIntegrityError{Table: "mp", Column: "id"}), http.StatusBadRequest},
		{fmt.Errorf("update mp: %w", querysql.ErrEmptyUpdate), http.StatusBadRequest},
		{&store.QueryError{Client: true, Err: errors.New("constraint")}, http.StatusBadRequest},
		{&store.QueryError{Err: errors.New("disk full")}, http.StatusInternalServerError},
		{&store.ProtocolError{Op: "commit", Message: "no transaction in progress"}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), "%v", tt.err)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "csv": FormatCSV, "xml": FormatXML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("php")
	var fe *FormatError
	assert.ErrorAs(t, err, &fe)
}
