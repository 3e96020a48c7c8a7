package server

import (
	"context"

	"github.com/pkg/errors"

	"github.com/pipelined/memcached"
)

// backendExchanger adapts a Backend into a memcached.Exchanger: it
// pattern-matches on the dynamic Request type, calls the matching
// Backend method, and translates the result (or sentinel error) into
// the corresponding Response alternative. The returned error is never
// set for protocol-level outcomes — those are always encoded in the
// Response itself — only for conditions the caller cannot recover a
// frame from.
type backendExchanger struct{ b Backend }

func (be *backendExchanger) Exchange(ctx context.Context, req memcached.Request) (memcached.Response, error) {
	switch r := req.(type) {
	case *memcached.SetRequest:
		return storeOutcome(be.b.Set(ctx, r.Key, r.Payload, r.Flags, r.Expiry)), nil
	case *memcached.AddRequest:
		return storeOutcome(be.b.Add(ctx, r.Key, r.Payload, r.Flags, r.Expiry)), nil
	case *memcached.ReplaceRequest:
		return storeOutcome(be.b.Replace(ctx, r.Key, r.Payload, r.Flags, r.Expiry)), nil
	case *memcached.AppendRequest:
		return storeOutcome(be.b.Append(ctx, r.Key, r.Payload)), nil
	case *memcached.PrependRequest:
		return storeOutcome(be.b.Prepend(ctx, r.Key, r.Payload)), nil
	case *memcached.CasRequest:
		return storeOutcome(be.b.Cas(ctx, r.Key, r.Payload, r.Flags, r.Expiry, r.CAS)), nil

	case *memcached.GetRequest:
		return valuesOutcome(be.b.Get(ctx, r.Keys...)), nil
	case *memcached.GetsRequest:
		return valuesOutcome(be.b.Gets(ctx, r.Keys...)), nil
	case *memcached.GetAndTouchRequest:
		return valuesOutcome(be.b.GetAndTouch(ctx, r.Expiry, r.Keys...)), nil
	case *memcached.GetAndTouchesRequest:
		return valuesOutcome(be.b.GetAndTouches(ctx, r.Expiry, r.Keys...)), nil

	case *memcached.DeleteRequest:
		return deleteOutcome(be.b.Delete(ctx, r.Key)), nil
	case *memcached.IncrRequest:
		return arithmeticOutcome(be.b.Incr(ctx, r.Key, r.Delta)), nil
	case *memcached.DecrRequest:
		return arithmeticOutcome(be.b.Decr(ctx, r.Key, r.Delta)), nil
	case *memcached.TouchRequest:
		return touchOutcome(be.b.Touch(ctx, r.Key, r.Expiry)), nil
	case *memcached.FlushAllRequest:
		return flushAllOutcome(be.b.FlushAll(ctx, r.Delay, r.HasDelay)), nil
	case *memcached.VersionRequest:
		return versionOutcome(be.b.Version(ctx))
	case *memcached.StatsRequest:
		return statsOutcome(be.b.Stats(ctx))
	default:
		return &memcached.ErrorResponse{}, nil
	}
}

func storeOutcome(err error) memcached.Response {
	switch {
	case err == nil:
		return &memcached.StoredResponse{}
	case errors.Is(err, memcached.ErrNotStored):
		return &memcached.NotStoredResponse{}
	case errors.Is(err, memcached.ErrExists):
		return &memcached.ExistsResponse{}
	case errors.Is(err, memcached.ErrNotFound):
		return &memcached.NotFoundResponse{}
	default:
		return &memcached.ServerErrorResponse{Message: err.Error()}
	}
}

func valuesOutcome(values []memcached.Value, err error) memcached.Response {
	if err != nil {
		return &memcached.ServerErrorResponse{Message: err.Error()}
	}
	return &memcached.ValuesResponse{Items: values}
}

func deleteOutcome(err error) memcached.Response {
	switch {
	case err == nil:
		return &memcached.DeletedResponse{}
	case errors.Is(err, memcached.ErrNotFound):
		return &memcached.NotFoundResponse{}
	default:
		return &memcached.ServerErrorResponse{Message: err.Error()}
	}
}

func arithmeticOutcome(value uint64, err error) memcached.Response {
	switch {
	case err == nil:
		return &memcached.NumericResponse{Value: value}
	case errors.Is(err, memcached.ErrNotFound):
		return &memcached.NotFoundResponse{}
	default:
		return &memcached.ServerErrorResponse{Message: err.Error()}
	}
}

func touchOutcome(err error) memcached.Response {
	switch {
	case err == nil:
		return &memcached.TouchedResponse{}
	case errors.Is(err, memcached.ErrNotFound):
		return &memcached.NotFoundResponse{}
	default:
		return &memcached.ServerErrorResponse{Message: err.Error()}
	}
}

func flushAllOutcome(err error) memcached.Response {
	if err != nil {
		return &memcached.ServerErrorResponse{Message: err.Error()}
	}
	return &memcached.OkResponse{}
}

func versionOutcome(version string, err error) (memcached.Response, error) {
	if err != nil {
		return &memcached.ServerErrorResponse{Message: err.Error()}, nil
	}
	return &memcached.VersionResponse{Version: version}, nil
}

func statsOutcome(stats map[string]string, err error) (memcached.Response, error) {
	if err != nil {
		return &memcached.ServerErrorResponse{Message: err.Error()}, nil
	}
	return &memcached.StatsResponse{Stats: stats}, nil
}
