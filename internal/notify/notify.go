// Package notify decides whether a captured request should produce an
// out-of-band notification and hands the composed payload to a transport.
//
// Settings live in a single table keyed by an identity key, which is
// either a stable subject identifier or a self-reported email address.
// The two are used interchangeably upstream, so resolution walks a
// prioritized chain instead of assuming one keying.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hookline/hookline/internal/store"
)

// Transport delivers one notification to an address. Implementations are
// fire and forget: the router never retries and never surfaces a failure.
type Transport interface {
	Deliver(ctx context.Context, address string, payload *Payload) error
}

// Payload is the composed notification content for one captured request.
type Payload struct {
	EndpointID   string       `json:"endpoint_id"`
	EndpointName string       `json:"endpoint_name,omitempty"`
	EndpointURL  string       `json:"endpoint_url"`
	Method       string       `json:"method"`
	Headers      []store.Pair `json:"headers"`
	Query        []store.Pair `json:"query"`
	Body         []byte       `json:"body"`
	ReceivedAt   time.Time    `json:"received_at"`
}

type Router struct {
	store     store.Store
	transport Transport
	logger    *log.Logger
	baseURL   string
}

func NewRouter(s store.Store, t Transport, baseURL string, logger *log.Logger) *Router {
	return &Router{store: s, transport: t, logger: logger, baseURL: baseURL}
}

// Route resolves the notification setting for the endpoint's owner and, if
// one is found and enabled, delivers a notification to its address.
// subjectID is an explicit subject identifier when the caller has one; the
// unauthenticated webhook path passes "".
//
// Resolution order, first match wins:
//  1. setting keyed by the explicit subject identifier
//  2. setting whose notification email equals the owner key
//  3. setting keyed by the owner key itself
//
// A missing or disabled setting means no notification; that is not an
// error. Delivery failures are logged and swallowed, so Route can never
// fail the ingestion that triggered it.
func (r *Router) Route(ctx context.Context, ep *store.Endpoint, req *store.CapturedRequest, subjectID string) {
	setting, err := r.resolve(ctx, ep.OwnerKey, subjectID)
	if err != nil {
		r.logger.Printf("notify: settings lookup for endpoint %s: %v", ep.ID, err)
		return
	}
	if setting == nil || !setting.Enabled || setting.NotificationEmail == "" {
		return
	}

	payload := &Payload{
		EndpointID:   ep.ID,
		EndpointName: ep.Name,
		EndpointURL:  fmt.Sprintf("%s/h/%s", r.baseURL, ep.ID),
		Method:       req.Method,
		Headers:      req.Headers,
		Query:        req.Query,
		Body:         req.Body,
		ReceivedAt:   req.ReceivedAt,
	}

	if err := r.transport.Deliver(ctx, setting.NotificationEmail, payload); err != nil {
		r.logger.Printf("notify: delivery to %s for endpoint %s: %v", setting.NotificationEmail, ep.ID, err)
	}
}

func (r *Router) resolve(ctx context.Context, ownerKey, subjectID string) (*store.NotificationSetting, error) {
	if subjectID != "" {
		setting, err := r.store.GetSetting(ctx, subjectID)
		if err == nil {
			return setting, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	setting, err := r.store.GetSettingByEmail(ctx, ownerKey)
	if err == nil {
		return setting, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	setting, err = r.store.GetSetting(ctx, ownerKey)
	if err == nil {
		return setting, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}
