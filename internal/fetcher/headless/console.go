package headless

import (
	"strings"
	"sync/atomic"

	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"
)

// consoleGuard counts page console errors and logs only the first few.
type consoleGuard struct {
	logger *zap.Logger
	url    string
	limit  int64
	count  atomic.Int64
}

func newConsoleGuard(logger *zap.Logger, url string, limit int) *consoleGuard {
	return &consoleGuard{logger: logger, url: url, limit: int64(limit)}
}

func (g *consoleGuard) captureEvent(ev any) {
	var msg string
	switch e := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		if e.Type != runtime.APITypeError {
			return
		}
		msg = consoleArgs(e.Args)
	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails == nil {
			return
		}
		msg = e.ExceptionDetails.Text
		if ex := e.ExceptionDetails.Exception; ex != nil && ex.Description != "" {
			msg = ex.Description
		}
	default:
		return
	}
	g.record(msg)
}

func (g *consoleGuard) record(msg string) {
	n := g.count.Add(1)
	switch {
	case n <= g.limit:
		g.logger.Debug("renderer console error", zap.String("url", g.url), zap.String("message", msg))
	case n == g.limit+1:
		g.logger.Debug("renderer console errors suppressed", zap.String("url", g.url), zap.Int64("limit", g.limit))
	}
}

// Count returns the number of console errors seen, including suppressed ones.
func (g *consoleGuard) Count() int {
	return int(g.count.Load())
}

func consoleArgs(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		switch {
		case arg.Description != "":
			parts = append(parts, arg.Description)
		case len(arg.Value) > 0:
			parts = append(parts, strings.Trim(string(arg.Value), `"`))
		}
	}
	return strings.Join(parts, " ")
}
