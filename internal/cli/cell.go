package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	v1 "nbexec/api/v1"
	"nbexec/internal/executor"
	"nbexec/internal/gateway/handlers"
	"nbexec/internal/gateway/middleware"
	"nbexec/internal/namespace"
)

// cellRunner 执行单个 cell, 本地或通过远程网关
type cellRunner interface {
	Run(ctx context.Context, req executor.Request, mode executor.Mode) (*v1.SessionExecuteResponse, error)
}

// localRunner 在进程内执行
type localRunner struct {
	x *executor.Executor
}

func (l localRunner) Run(ctx context.Context, req executor.Request, mode executor.Mode) (*v1.SessionExecuteResponse, error) {
	res, err := l.x.Execute(ctx, req, mode)
	if err != nil {
		return nil, err
	}
	resp := v1.NewSessionExecuteResponse(res)
	if mode == executor.ModeOneShot {
		resp.State = nil
	}
	return &resp, nil
}

// remoteRunner 通过 HTTP 调用网关
type remoteRunner struct {
	baseURL string
	token   string
	client  *http.Client
}

func newRemoteRunner(baseURL, token string) remoteRunner {
	return remoteRunner{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
	}
}

func (r remoteRunner) Run(ctx context.Context, req executor.Request, mode executor.Mode) (*v1.SessionExecuteResponse, error) {
	body := v1.ExecuteRequest{Code: req.Code}
	if req.TimeoutSeconds > 0 {
		body.TimeoutSeconds = &req.TimeoutSeconds
	}
	if req.InputURL != "" {
		body.InputURL = &req.InputURL
	}
	if req.OutputURL != "" {
		body.OutputURL = &req.OutputURL
	}
	if req.InputTypeHint != "" {
		body.InputTypeHint = &req.InputTypeHint
	}

	path := "/api/v1/execute"
	var payload any = body
	if mode == executor.ModeSession {
		path = "/api/v1/session/execute"
		payload = v1.SessionExecuteRequest{ExecuteRequest: body, PriorState: req.PriorState}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(middleware.AcceptContractHeader, "^"+namespace.ContractVersion)
	if r.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e handlers.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) == nil && e.Error.Code != "" {
			return nil, fmt.Errorf("gateway returned %d %s: %s", resp.StatusCode, e.Error.Code, e.Error.Message)
		}
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out v1.SessionExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// runnerFor 选择本地或远程执行
func runnerFor(cliCtx *CLIContext, serverURL string) cellRunner {
	if serverURL != "" {
		return newRemoteRunner(serverURL, cliCtx.Config.Gateway.AuthToken)
	}
	return localRunner{x: cliCtx.GetEngine().Executor}
}

// printResult 输出执行结果, 返回是否成功
func printResult(stdout, stderr io.Writer, resp *v1.SessionExecuteResponse) bool {
	io.WriteString(stdout, resp.Output)
	if resp.Output != "" && !strings.HasSuffix(resp.Output, "\n") {
		io.WriteString(stdout, "\n")
	}
	if resp.ReturnValue != nil {
		fmt.Fprintf(stdout, "Out: %s\n", *resp.ReturnValue)
	}
	if resp.Error != nil {
		msg := *resp.Error
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
		io.WriteString(stderr, msg)
	}
	if resp.Truncated {
		io.WriteString(stderr, "(output truncated)\n")
	}
	return resp.Success
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
