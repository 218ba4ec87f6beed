// Package capture implements the ingestion pipeline: gate on endpoint
// existence, normalize the inbound request, append it durably, then fan it
// out and route a notification without either outcome affecting the caller.
package capture

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/hookline/hookline/internal/bus"
	"github.com/hookline/hookline/internal/notify"
	"github.com/hookline/hookline/internal/store"
)

type Pipeline struct {
	store  store.Store
	bus    *bus.Bus
	router *notify.Router
	logger *log.Logger

	// seqLocks serializes append+broadcast per endpoint so broadcasts
	// leave in sequence order. The store alone guarantees ordered
	// assignment, but two handlers could otherwise broadcast out of order.
	mu       sync.Mutex
	seqLocks map[string]*sync.Mutex
}

func NewPipeline(s store.Store, b *bus.Bus, r *notify.Router, logger *log.Logger) *Pipeline {
	return &Pipeline{
		store:    s,
		bus:      b,
		router:   r,
		logger:   logger,
		seqLocks: make(map[string]*sync.Mutex),
	}
}

// Ingest validates, normalizes, and durably appends one inbound request.
// The returned error reflects only the existence gate and the append:
// broadcast and notification failures are logged, never propagated. The
// existence check and the append are not atomic with respect to a
// concurrent endpoint deletion; a request may be appended for an endpoint
// deleted a moment later, and the cascade then removes it.
func (p *Pipeline) Ingest(ctx context.Context, endpointID, method string, header http.Header, rawQuery string, body []byte) (*store.CapturedRequest, error) {
	ep, err := p.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, err
	}

	req := &store.CapturedRequest{
		EndpointID: endpointID,
		Method:     strings.ToUpper(strings.TrimSpace(method)),
		Headers:    headerPairs(header),
		Query:      queryPairs(rawQuery),
		Body:       decodeBody(header.Get("Content-Encoding"), body),
	}

	lock := p.endpointLock(endpointID)
	lock.Lock()
	err = p.store.AppendRequest(ctx, req)
	if err == nil {
		p.bus.Broadcast(endpointID, req)
	}
	lock.Unlock()
	if err != nil {
		p.logger.Printf("capture: append for %s failed: %v", endpointID, err)
		return nil, err
	}

	go func() {
		// Notification routing is best effort and must not delay the
		// ingestion response; it carries its own context.
		p.router.Route(context.Background(), ep, req, "")
	}()

	return req, nil
}

func (p *Pipeline) endpointLock(endpointID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.seqLocks[endpointID]
	if !ok {
		lock = &sync.Mutex{}
		p.seqLocks[endpointID] = lock
	}
	return lock
}

// headerPairs flattens an http.Header into an ordered multimap. Go's
// header type does not retain the order keys arrived in, so keys are
// sorted for determinism; the value order within a key is preserved.
func headerPairs(header http.Header) []store.Pair {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []store.Pair
	for _, k := range keys {
		for _, v := range header[k] {
			pairs = append(pairs, store.Pair{Name: k, Value: v})
		}
	}
	return pairs
}

// queryPairs parses a raw query string preserving duplicate keys and their
// original order, which url.Values would collapse into a map.
func queryPairs(rawQuery string) []store.Pair {
	var pairs []store.Pair
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		pairs = append(pairs, store.Pair{Name: unescape(name), Value: unescape(value)})
	}
	return pairs
}

func unescape(s string) string {
	// Treat an undecodable component as opaque rather than rejecting it;
	// query content is untrusted data, not something to validate.
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

// decodeBody undoes gzip/deflate content encodings so viewers see the
// payload the sender produced. Undecodable bodies are stored raw.
func decodeBody(contentEncoding string, body []byte) []byte {
	switch contentEncoding {
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return body
		}
		defer gr.Close()
		if decoded, err := io.ReadAll(gr); err == nil {
			return decoded
		}
	case "deflate":
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return body
		}
		defer zr.Close()
		if decoded, err := io.ReadAll(zr); err == nil {
			return decoded
		}
	}
	return body
}
