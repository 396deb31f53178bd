package middleware

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// sensitiveParams are query parameters replaced before a path is logged.
var sensitiveParams = []string{"token", "access_token"}

// AccessLogger is gin.Logger with credentials stripped from the logged
// query string. A nil out writes to gin.DefaultWriter.
func AccessLogger(out io.Writer) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{Formatter: accessLogFormatter, Output: out})
}

func accessLogFormatter(p gin.LogFormatterParams) string {
	return fmt.Sprintf("[GIN] %v | %3d | %13v | %15s | %-7s %#v\n%s",
		p.TimeStamp.Format("2006/01/02 - 15:04:05"),
		p.StatusCode,
		p.Latency,
		p.ClientIP,
		p.Method,
		redactQuery(p.Path),
		p.ErrorMessage,
	)
}

// redactQuery masks sensitive query values. An unparsable query is
// dropped entirely.
func redactQuery(path string) string {
	base, raw, ok := strings.Cut(path, "?")
	if !ok {
		return path
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return base
	}
	for _, k := range sensitiveParams {
		if q.Has(k) {
			q.Set(k, "REDACTED")
		}
	}
	return base + "?" + q.Encode()
}
