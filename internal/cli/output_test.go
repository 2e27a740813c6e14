package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parlapi/internal/querysql"
	"github.com/roach88/parlapi/internal/resource"
	"github.com/roach88/parlapi/internal/store"
	"github.com/roach88/parlapi/internal/table"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeInput, "column id of table mp is read-only", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E003", resp.Error.Code)
	assert.Equal(t, "column id of table mp is read-only", resp.Error.Message)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	err := formatter.Error(ErrCodeNotFound, "resource \"Nope\": not found", map[string]string{"hint": "see tables"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `Error [E005]: resource "Nope": not found`)
	assert.Contains(t, buf.String(), "Details: map[hint:see tables]")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut}

	formatter.VerboseLog("hidden")
	assert.Empty(t, errOut.String())

	formatter.Verbose = true
	formatter.VerboseLog("%d row(s)", 3)
	assert.Empty(t, out.String(), "verbose output must not corrupt JSON")
	assert.Equal(t, "3 row(s)\n", errOut.String())
}

func TestOutputFormatter_Rows(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	rows := []store.Row{
		{"id": int64(1), "last_name": "Novák", "born_on": time.Date(1960, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"id": int64(2), "last_name": "Svoboda", "born_on": nil},
	}
	require.NoError(t, formatter.Rows([]string{"id", "last_name", "born_on"}, rows, `\N`))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"id", "last_name", "born_on"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"1", "Novák", "1960-01-02T00:00:00Z"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"2", "Svoboda", `\N`}, strings.Fields(lines[2]))
}

func TestOutputFormatter_RowsWithoutDeclaredColumns(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Rows(nil, []store.Row{{"b": 1, "a": 2}}, "null"))
	assert.Equal(t, []string{"a", "b"}, strings.Fields(strings.Split(buf.String(), "\n")[0]))
}

func TestOutputFormatter_Result(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	res := table.Result{
		Keys:  []any{store.Row{"mp_id": int64(1), "name": "email", "lang": nil}},
		Count: 1,
	}
	require.NoError(t, formatter.Result("created", res))
	assert.Equal(t, "✓ created 1 row(s)\n  lang=null mp_id=1 name=email\n", buf.String())
}

func TestOutputFormatter_Fail(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
		exit int
	}{
		{"read-only column", fmt.Errorf("create mp: %w", &querysql.DataIntegrityError{Table: "mp", Column: "id"}), ErrCodeInput, ExitFailure},
		{"constraint", &store.QueryError{Client: true, Err: errors.New("NOT NULL constraint failed")}, ErrCodeInput, ExitFailure},
		{"unsupported", fmt.Errorf("delete Role: %w", resource.ErrUnsupported), ErrCodeInput, ExitFailure},
		{"argument", &ArgError{Arg: "x", Message: "expected column=value"}, ErrCodeInput, ExitFailure},
		{"unknown resource", fmt.Errorf("resource %q: %w", "Nope", resource.ErrNotFound), ErrCodeNotFound, ExitCommandError},
		{"backend", &store.QueryError{Err: errors.New("disk I/O error")}, ErrCodeDatabase, ExitCommandError},
		{"startup", startupError(ErrCodeConfig, "loading config", errors.New("bad toml")), ErrCodeConfig, ExitCommandError},
		{"other", errors.New("boom"), ErrCodeGeneric, ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: buf}

			err := formatter.Fail("op", tt.err)
			assert.Equal(t, tt.exit, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "x")))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("wrapped: %w", WrapExitError(ExitFailure, "x", errors.New("y")))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestExitError_Error(t *testing.T) {
	assert.Equal(t, "loading config: bad toml", WrapExitError(2, "loading config", errors.New("bad toml")).Error())
	assert.Equal(t, "no rows", NewExitError(1, "no rows").Error())
}
