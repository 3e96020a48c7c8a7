// Package memcached implements a client and server library for the
// memcached text (ASCII) protocol over a pipelined TCP stream.
//
// The wire codec (Value, Request, Response) is transport-agnostic: it
// parses and serializes frames against plain byte slices. The pipelined
// transport (Transport) binds the codec to a duplex byte stream and
// multiplexes outstanding requests in FIFO order over a single
// connection. The typed Client surface in this package converts the 14
// classic memcache operations (plus gat/gats/stats) into Request values
// and Response values back into typed results or errors. The server
// counterpart lives in the server subpackage.
//
// This package supports:
//   - set/add/replace/append/prepend/cas
//   - get/gets/gat/gats
//   - delete
//   - incr/decr
//   - touch
//   - flush_all
//   - version/stats
//
// It does not implement a storage engine, cluster membership/sharding,
// authentication, UDP transport, the binary protocol, or TLS.
package memcached
