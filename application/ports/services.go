package ports

import (
	"context"

	"real-backend/domain/stream"
)

// SearchIndex keeps the external user search index in step with profiles.
type SearchIndex interface {
	AddUser(ctx context.Context, userID string, item stream.Item) error
	UpdateUser(ctx context.Context, userID string, oldItem, newItem stream.Item) error
	DeleteUser(ctx context.Context, userID string) error
}

// Channel is a push notification channel.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

// PushNotifications manages a user's push notification endpoints.
type PushNotifications interface {
	UpdateUserEndpoint(ctx context.Context, userID string, channel Channel, address string) error
	DeleteUserEndpoint(ctx context.Context, userID string, channel Channel) error
	EnableUserEndpoints(ctx context.Context, userID string) error
	DisableUserEndpoints(ctx context.Context, userID string) error
	DeleteUserEndpoints(ctx context.Context, userID string) error
}

// Realtime pushes notifications to subscribed clients. The query names the
// notification and variables carry its input.
type Realtime interface {
	Send(ctx context.Context, query string, variables map[string]any) error
}

// Analytics records user attribute changes.
type Analytics interface {
	SendEvent(ctx context.Context, userID string, newItem, oldItem stream.Item) error
}

// Cache is a small TTL cache shared within one runtime instance.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttl int) error
	Delete(ctx context.Context, key string) error
}
