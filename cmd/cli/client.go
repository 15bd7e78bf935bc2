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
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// apiError 服务端返回的非 2xx 响应
type apiError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Body)
}

type apiClient struct {
	r *resty.Client
}

func newAPIClient(baseURL, apiKey string, timeout time.Duration) *apiClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetHeader("X-Api-Key", apiKey)
	}
	return &apiClient{r: c}
}

// do 发送请求并返回原始响应体；非 2xx 返回 *apiError
func (c *apiClient) do(method, path string, body interface{}) ([]byte, error) {
	req := c.r.R()
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, &apiError{Method: method, Path: path, Status: resp.StatusCode(), Body: resp.String()}
	}
	return resp.Body(), nil
}

func (c *apiClient) getMalo(id string) ([]byte, error) {
	return c.do(http.MethodGet, "/api/malos/"+id, nil)
}

func (c *apiClient) putMalo(id string, record json.RawMessage) ([]byte, error) {
	return c.do(http.MethodPut, "/api/malos/"+id, record)
}

func (c *apiClient) listRuns(id string, limit int) ([]byte, error) {
	return c.do(http.MethodGet, fmt.Sprintf("/api/malos/%s/runs?limit=%d", id, limit), nil)
}

func (c *apiClient) handover(id string, req map[string]string) ([]byte, error) {
	return c.do(http.MethodPost, "/api/malos/"+id+"/handover", req)
}

func (c *apiClient) onboard(id string, req map[string]string) ([]byte, error) {
	return c.do(http.MethodPost, "/api/malos/"+id+"/onboarding", req)
}

func (c *apiClient) getRun(id string) ([]byte, error) {
	return c.do(http.MethodGet, "/api/runs/"+id, nil)
}

func (c *apiClient) cancelRun(id string) ([]byte, error) {
	return c.do(http.MethodPost, "/api/runs/"+id+"/cancel", nil)
}

func (c *apiClient) putContract(contract map[string]string) ([]byte, error) {
	return c.do(http.MethodPut, "/api/supplier/contracts", contract)
}

func (c *apiClient) getContract(maloID, supplier string) ([]byte, error) {
	return c.do(http.MethodGet, "/api/supplier/contracts/"+maloID+"/"+supplier, nil)
}

// printJSON 缩进输出，无法解析时原样输出
func printJSON(w io.Writer, data []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fmt.Fprintln(w, string(data))
		return
	}
	fmt.Fprintln(w, buf.String())
}
