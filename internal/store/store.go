package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an endpoint, request, or setting does not
// exist. Callers must not retry on it.
var ErrNotFound = errors.New("not found")

type Endpoint struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerKey  string    `json:"owner_key"` // subject id or email, fixed at creation
	CreatedAt time.Time `json:"created_at"`
}

// Pair is one entry of an order-preserving multimap. Headers and query
// parameters keep duplicate names and their value order.
type Pair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type CapturedRequest struct {
	EndpointID string    `json:"endpoint_id"`
	Seq        int64     `json:"seq"` // assigned by the store, strictly increasing per endpoint
	Method     string    `json:"method"`
	Headers    []Pair    `json:"headers"`
	Query      []Pair    `json:"query"`
	Body       []byte    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// NotificationSetting is keyed by an identity key, which is either a stable
// subject identifier or a self-reported email address. The notification
// router resolves across both keyings.
type NotificationSetting struct {
	IdentityKey       string    `json:"identity_key"`
	Enabled           bool      `json:"enabled"`
	NotificationEmail string    `json:"notification_email"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type Store interface {
	CreateEndpoint(ctx context.Context, id, name, ownerKey string) (*Endpoint, error)
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	ListEndpoints(ctx context.Context, ownerKeys []string, limit int) ([]*Endpoint, error)
	// DeleteEndpoint removes the endpoint and every request captured
	// against it in one transaction. No orphaned requests survive.
	DeleteEndpoint(ctx context.Context, id string) error

	// AppendRequest assigns req.Seq and persists the record. Concurrent
	// appends on the same endpoint never produce duplicate or out-of-order
	// sequence numbers.
	AppendRequest(ctx context.Context, req *CapturedRequest) error
	// RecentRequests returns up to limit requests, newest first.
	RecentRequests(ctx context.Context, endpointID string, limit int) ([]*CapturedRequest, error)
	GetRequest(ctx context.Context, endpointID string, seq int64) (*CapturedRequest, error)
	CountRequests(ctx context.Context, endpointID string) (int, error)

	GetSetting(ctx context.Context, identityKey string) (*NotificationSetting, error)
	GetSettingByEmail(ctx context.Context, email string) (*NotificationSetting, error)
	UpsertSetting(ctx context.Context, s *NotificationSetting) error
	// PurgeSettingsByEmail deletes settings whose notification email equals
	// address, except rows keyed by one of keepKeys.
	PurgeSettingsByEmail(ctx context.Context, address string, keepKeys []string) error
}
