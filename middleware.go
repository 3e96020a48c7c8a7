package memcached

import (
	"context"
	"log/slog"
	"time"
)

// Exchanger sends a single Request and returns its matching Response.
// *Transport implements it directly; the server package adapts a
// Backend into one the same way.
type Exchanger interface {
	Exchange(ctx context.Context, req Request) (Response, error)
}

// Exchange implements Exchanger by delegating to Dispatch.
func (t *Transport) Exchange(ctx context.Context, req Request) (Response, error) {
	return t.Dispatch(ctx, req)
}

type loggingExchanger struct {
	next   Exchanger
	logger *slog.Logger
}

// LoggingMiddleware wraps next, logging command kind, outcome and
// latency at slog.LevelDebug for every exchange. It never swallows or
// reorders: the wrapped Exchanger's return value passes through
// unchanged.
func LoggingMiddleware(next Exchanger, logger *slog.Logger) Exchanger {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingExchanger{next: next, logger: logger}
}

func (l *loggingExchanger) Exchange(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := l.next.Exchange(ctx, req)
	l.logger.Debug("memcached exchange",
		"command", requestKeyword(req),
		"key", requestKey(req),
		"elapsed", time.Since(start),
		"err", err,
	)
	return resp, err
}

// requestKeyword names the command a Request encodes, for logging.
func requestKeyword(req Request) string {
	switch req.(type) {
	case *SetRequest:
		return "set"
	case *AddRequest:
		return "add"
	case *ReplaceRequest:
		return "replace"
	case *AppendRequest:
		return "append"
	case *PrependRequest:
		return "prepend"
	case *CasRequest:
		return "cas"
	case *GetRequest:
		return "get"
	case *GetsRequest:
		return "gets"
	case *GetAndTouchRequest:
		return "gat"
	case *GetAndTouchesRequest:
		return "gats"
	case *DeleteRequest:
		return "delete"
	case *IncrRequest:
		return "incr"
	case *DecrRequest:
		return "decr"
	case *TouchRequest:
		return "touch"
	case *FlushAllRequest:
		return "flush_all"
	case *VersionRequest:
		return "version"
	case *StatsRequest:
		return "stats"
	default:
		return "unknown"
	}
}

// requestKey extracts the primary key a Request addresses, where one
// applies, for logging; returns "" for multi-key and keyless commands.
func requestKey(req Request) string {
	switch r := req.(type) {
	case *SetRequest:
		return r.Key
	case *AddRequest:
		return r.Key
	case *ReplaceRequest:
		return r.Key
	case *AppendRequest:
		return r.Key
	case *PrependRequest:
		return r.Key
	case *CasRequest:
		return r.Key
	case *DeleteRequest:
		return r.Key
	case *IncrRequest:
		return r.Key
	case *DecrRequest:
		return r.Key
	case *TouchRequest:
		return r.Key
	default:
		return ""
	}
}
