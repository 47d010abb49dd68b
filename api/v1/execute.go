package v1

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"nbexec/internal/executor"
	"nbexec/internal/gateway/handlers"
	"nbexec/internal/kernelerr"
)

// MaxRequestBytes bounds an execute request body.
const MaxRequestBytes = 32 << 20

// StatusClientClosedRequest is reported when the caller went away mid-call.
const StatusClientClosedRequest = 499

// HandleExecute runs a one-shot call.
func (r *Router) HandleExecute(w http.ResponseWriter, req *http.Request) {
	var body ExecuteRequest
	if !r.decode(w, req, &body) {
		return
	}
	res, ok := r.run(w, req, body.ToExecutor(), executor.ModeOneShot)
	if !ok {
		return
	}
	handlers.SendJSON(w, http.StatusOK, NewExecuteResponse(res))
}

// HandleSessionExecute runs a session-mode call.
func (r *Router) HandleSessionExecute(w http.ResponseWriter, req *http.Request) {
	var body SessionExecuteRequest
	if !r.decode(w, req, &body) {
		return
	}
	res, ok := r.run(w, req, body.ToExecutor(), executor.ModeSession)
	if !ok {
		return
	}
	handlers.SendJSON(w, http.StatusOK, NewSessionExecuteResponse(res))
}

func (r *Router) decode(w http.ResponseWriter, req *http.Request, dst any) bool {
	if r.executor == nil {
		handlers.Fail(w, handlers.ErrCodeServiceUnavailable, "executor not available")
		return false
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, MaxRequestBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			handlers.SendError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			handlers.Fail(w, handlers.ErrCodeInvalidRequest, "request body is empty")
		default:
			handlers.Fail(w, handlers.ErrCodeInvalidRequest, "invalid JSON body: "+err.Error())
		}
		return false
	}
	return true
}

// run executes the call and writes an error response for runtime-boundary
// failures. Validation failures are ordinary results with success false,
// except empty code which is rejected with 400.
func (r *Router) run(w http.ResponseWriter, req *http.Request, call executor.Request, mode executor.Mode) (*executor.Result, bool) {
	if strings.TrimSpace(call.Code) == "" {
		handlers.Fail(w, handlers.ErrCodeInvalidRequest, "code cannot be empty")
		return nil, false
	}

	res, err := r.executor.Execute(req.Context(), call, mode)
	if err == nil {
		return res, true
	}

	status, code := BoundaryStatus(err)
	log.Warn().Err(err).Str("mode", string(mode)).Int("status", status).Msg("execute request failed")
	handlers.SendError(w, status, code, err.Error())
	return nil, false
}

// BoundaryStatus maps a runtime-boundary error to an HTTP status and error
// code.
func BoundaryStatus(err error) (int, string) {
	switch {
	case errors.Is(err, kernelerr.ErrTimeout):
		return http.StatusGatewayTimeout, handlers.ErrCodeGatewayTimeout
	case errors.Is(err, kernelerr.ErrPoolExhausted):
		return http.StatusTooManyRequests, ErrCodePoolExhausted
	case errors.Is(err, kernelerr.ErrInterrupted):
		return StatusClientClosedRequest, ErrCodeClientClosed
	case errors.Is(err, kernelerr.ErrClosed):
		return http.StatusServiceUnavailable, handlers.ErrCodeServiceUnavailable
	default:
		return http.StatusInternalServerError, handlers.ErrCodeInternalError
	}
}

// HandlePresign issues a signed URL from the dev object store.
func (r *Router) HandlePresign(w http.ResponseWriter, req *http.Request) {
	var body PresignRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<16)).Decode(&body); err != nil {
		handlers.Fail(w, handlers.ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	method := strings.ToUpper(body.Method)
	url, err := r.presigner.Presign(method, body.Key)
	if err != nil {
		handlers.Fail(w, handlers.ErrCodeInvalidRequest, err.Error())
		return
	}
	handlers.SendJSON(w, http.StatusOK, PresignResponse{URL: url, Method: method, Key: body.Key})
}
