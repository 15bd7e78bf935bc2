// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method string
	Path   string
	APIKey string
	Body   map[string]string
}

// fakeAPI 按路径返回固定响应并记录最近一次请求
func fakeAPI(t *testing.T, status int, body string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.Method = r.Method
		rec.Path = r.URL.RequestURI()
		rec.APIKey = r.Header.Get("X-Api-Key")
		raw, _ := io.ReadAll(r.Body)
		rec.Body = nil
		_ = json.Unmarshal(raw, &rec.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "maloctl "+version)
}

func TestMaloGet(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusOK, `{"maLo":"M1","belieferungen":[]}`)
	out, err := execute(t, "", "--server", srv.URL, "--api-key", "k1", "malo", "get", "M1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, rec.Method)
	assert.Equal(t, "/api/malos/M1", rec.Path)
	assert.Equal(t, "k1", rec.APIKey)
	assert.Contains(t, out, `"maLo": "M1"`)
}

func TestMaloPut_FromStdin(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusOK, `{"maLo":"M1"}`)
	_, err := execute(t, `{"maLo":"M1","lieferant":{"name":"S1"}}`, "--server", srv.URL, "malo", "put", "M1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, rec.Method)
	assert.Equal(t, "/api/malos/M1", rec.Path)
}

func TestMaloPut_InvalidJSON(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusOK, `{}`)
	_, err := execute(t, `{not json`, "--server", srv.URL, "malo", "put", "M1")
	require.Error(t, err)
	assert.Empty(t, rec.Method, "invalid input must not reach the server")
}

func TestMaloRuns_Limit(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusOK, `{"runs":[]}`)
	_, err := execute(t, "", "--server", srv.URL, "malo", "runs", "M1", "--limit", "5")
	require.NoError(t, err)
	assert.Equal(t, "/api/malos/M1/runs?limit=5", rec.Path)
}

func TestHandover_Completed(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusOK, `{"outcome":"completed","run_id":"r1","state":"completed"}`)
	_, err := execute(t, "", "--server", srv.URL, "handover", "M1",
		"--start", "2024-04-01", "--end", "2024-12-31", "--deadline", "30s")
	require.NoError(t, err)
	assert.Equal(t, "/api/malos/M1/handover", rec.Path)
	assert.Equal(t, map[string]string{
		"requested_start": "2024-04-01",
		"requested_end":   "2024-12-31",
		"timeout":         "30s",
	}, rec.Body)
}

func TestHandover_Incomplete(t *testing.T) {
	srv, _ := fakeAPI(t, http.StatusOK, `{"outcome":"partially_failed","run_id":"r2","unresolved":["S2"]}`)
	out, err := execute(t, "", "--server", srv.URL, "handover", "M1", "--start", "2024-04-01", "--end", "2024-12-31")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partially_failed")
	assert.Contains(t, out, "S2")
}

func TestHandover_MissingFlags(t *testing.T) {
	_, err := execute(t, "", "--server", "http://127.0.0.1:1", "handover", "M1")
	require.Error(t, err)
}

func TestOnboard(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusOK, `{"outcome":"completed","run_id":"r3"}`)
	_, err := execute(t, "", "--server", srv.URL, "onboard", "M1", "--supplier", "S3", "--endpoint", "http://S3/api")
	require.NoError(t, err)
	assert.Equal(t, "/api/malos/M1/onboarding", rec.Path)
	assert.Equal(t, "S3", rec.Body["supplier_name"])
	assert.Equal(t, "http://S3/api", rec.Body["supplier_endpoint"])
}

func TestRunCancel(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusAccepted, `{"run_id":"r1","status":"cancelling"}`)
	_, err := execute(t, "", "--server", srv.URL, "run", "cancel", "r1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, rec.Method)
	assert.Equal(t, "/api/runs/r1/cancel", rec.Path)
}

func TestContractPut(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusOK, `{}`)
	_, err := execute(t, "", "--server", srv.URL, "contract", "put",
		"--malo", "M1", "--supplier", "S1", "--end", "2024-12-31", "--cycle", "y")
	require.NoError(t, err)
	assert.Equal(t, "/api/supplier/contracts", rec.Path)
	assert.Equal(t, "y", rec.Body["cycle_period"])
	assert.Equal(t, "2024-12-31", rec.Body["contract_end"])
}

func TestAPIError(t *testing.T) {
	srv, _ := fakeAPI(t, http.StatusNotFound, `{"error":"not found"}`)
	_, err := execute(t, "", "--server", srv.URL, "run", "get", "missing")
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "/api/runs/missing", apiErr.Path)
}
