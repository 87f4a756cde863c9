// Package network exposes the correlation service over ZeroMQ.
// This package implements:
// - ZmqService: REP socket answering correlation requests
// - ZmqClient: REQ socket helper for callers
package network
