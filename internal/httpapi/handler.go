package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/roach88/parlapi/internal/querysql"
	"github.com/roach88/parlapi/internal/resource"
	"github.com/roach88/parlapi/internal/table"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 10 << 20

type indexEntry struct {
	Resource string        `json:"resource"`
	Ops      []resource.Op `json:"operations"`
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	var entries []indexEntry
	for _, name := range s.cfg.Registry.Names() {
		res, err := s.cfg.Registry.Lookup(name)
		if err != nil {
			continue
		}
		entries = append(entries, indexEntry{Resource: res.Name(), Ops: res.Ops()})
	}
	w.Header().Set("Content-Type", FormatJSON.ContentType())
	_ = writeJSON(w, entries)
}

func (s *Server) serveResource(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	format, err := ParseFormat(query.Get(FormatKey))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	enc := encoder{format: format, nullToken: s.cfg.NullToken}

	if s.cfg.Project != "" && r.PathValue("project") != s.cfg.Project {
		s.fail(w, r, fmt.Errorf("project %q: %w", r.PathValue("project"), resource.ErrNotFound))
		return
	}
	reg := s.cfg.Registry
	if r.Method == http.MethodGet && s.cfg.ReadRegistry != nil {
		reg = s.cfg.ReadRegistry
	}
	res, err := reg.Lookup(r.PathValue("resource"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ctx := r.Context()
	filter := s.params(query)
	var buf bytes.Buffer
	status := http.StatusOK

	switch r.Method {
	case http.MethodGet:
		rows, err := res.Read(ctx, filter)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		var declared []string
		if d, ok := res.(resource.Described); ok {
			declared = d.Table().ColumnNames()
		}
		err = enc.Rows(&buf, columnsOf(declared, rows), rows)
		if err != nil {
			s.fail(w, r, err)
			return
		}
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		var result table.Result
		switch r.Method {
		case http.MethodPost:
			var rows []querysql.Params
			if rows, err = DecodeRows(r.Body); err == nil {
				result, err = res.Create(ctx, rows...)
				status = http.StatusCreated
			}
		case http.MethodPut:
			var data querysql.Params
			if data, err = DecodeObject(r.Body); err == nil {
				result, err = res.Update(ctx, filter, data)
			}
		default:
			result, err = res.Delete(ctx, filter)
		}
		if err == nil {
			err = enc.Result(&buf, result)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
	default:
		w.Header().Set("Allow", "GET, POST, PUT, DELETE")
		s.fail(w, r, fmt.Errorf("method %s: %w", r.Method, resource.ErrUnsupported))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// params turns the query string into a filter. The last value of a repeated
// key wins and the null token becomes nil.
func (s *Server) params(query url.Values) querysql.Params {
	filter := make(querysql.Params, len(query))
	for k, vals := range query {
		if k == FormatKey || len(vals) == 0 {
			continue
		}
		v := vals[len(vals)-1]
		if v == s.cfg.NullToken {
			filter[k] = nil
		} else {
			filter[k] = v
		}
	}
	return filter
}

// fail writes err as a JSON error body with the status StatusOf assigns.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("request failed")
	}
	w.Header().Set("Content-Type", FormatJSON.ContentType())
	w.WriteHeader(status)
	_ = writeJSON(w, errorBody{Error: err.Error(), Status: status, RequestID: RequestID(r.Context())})
}

// DecodeRows reads create data: one JSON object or an array of objects.
// Integral numbers decode as int64.
func DecodeRows(body io.Reader) ([]querysql.Params, error) {
	v, err := decodeBody(body)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case map[string]any:
		return []querysql.Params{x}, nil
	case []any:
		rows := make([]querysql.Params, len(x))
		for i, item := range x {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, &BodyError{Err: fmt.Errorf("element %d is not an object", i)}
			}
			rows[i] = obj
		}
		if len(rows) == 0 {
			return nil, &BodyError{Err: errors.New("no rows")}
		}
		return rows, nil
	default:
		return nil, &BodyError{Err: errors.New("expected an object or an array of objects")}
	}
}

// DecodeObject reads update data: one JSON object.
func DecodeObject(body io.Reader) (querysql.Params, error) {
	v, err := decodeBody(body)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &BodyError{Err: errors.New("expected an object")}
	}
	return obj, nil
}

func decodeBody(body io.Reader) (any, error) {
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &BodyError{Err: errors.New("empty body")}
		}
		return nil, &BodyError{Err: err}
	}
	if dec.More() {
		return nil, &BodyError{Err: errors.New("trailing data after JSON value")}
	}
	return numbers(v), nil
}

// numbers replaces json.Number with int64 or float64 so values bind with
// their natural type.
func numbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if strings.ContainsAny(x.String(), ".eE") {
			if f, err := x.Float64(); err == nil {
				return f
			}
		}
		return x.String()
	case map[string]any:
		for k, item := range x {
			x[k] = numbers(item)
		}
		return x
	case []any:
		for i, item := range x {
			x[i] = numbers(item)
		}
		return x
	default:
		return v
	}
}
