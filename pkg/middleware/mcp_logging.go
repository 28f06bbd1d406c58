package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/logging"
)

// MCPRequestLogger writes one DEBUG entry per MCP JSON-RPC call with the tool name,
// redacted arguments, outcome and duration. A nil logger disables it.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				logger.Error("Failed to read MCP request body", zap.Error(err))
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var call rpcCall
			_ = json.Unmarshal(body, &call) // batch and malformed bodies still reach the server

			rec := &bodyRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)

			fields := []zap.Field{
				zap.String("method", call.Method),
				zap.Duration("duration", time.Since(start)),
			}
			if call.Params.Name != "" {
				fields = append(fields,
					zap.String("tool", call.Params.Name),
					zap.Any("arguments", logging.SanitizeArguments(call.Params.Arguments)),
				)
			}

			var reply rpcReply
			if err := json.Unmarshal(rec.body.Bytes(), &reply); err != nil {
				logger.Debug("MCP call", fields...)
				return
			}
			switch {
			case reply.Error != nil:
				logger.Debug("MCP call failed", append(fields,
					zap.Int("error_code", reply.Error.Code),
					zap.String("error_message", reply.Error.Message))...)
			case reply.Result.IsError:
				logger.Debug("MCP tool returned error", fields...)
			default:
				logger.Debug("MCP call", fields...)
			}
		})
	}
}

type rpcCall struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

type rpcReply struct {
	Result struct {
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type bodyRecorder struct {
	http.ResponseWriter
	body bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *bodyRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
