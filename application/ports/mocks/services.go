package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"real-backend/application/ports"
	"real-backend/domain/stream"
)

// MockSearchIndex is a mock implementation of ports.SearchIndex
type MockSearchIndex struct {
	mock.Mock
}

func (m *MockSearchIndex) AddUser(ctx context.Context, userID string, item stream.Item) error {
	args := m.Called(ctx, userID, item)
	return args.Error(0)
}

func (m *MockSearchIndex) UpdateUser(ctx context.Context, userID string, oldItem, newItem stream.Item) error {
	args := m.Called(ctx, userID, oldItem, newItem)
	return args.Error(0)
}

func (m *MockSearchIndex) DeleteUser(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

// MockPushNotifications is a mock implementation of ports.PushNotifications
type MockPushNotifications struct {
	mock.Mock
}

func (m *MockPushNotifications) UpdateUserEndpoint(ctx context.Context, userID string, channel ports.Channel, address string) error {
	args := m.Called(ctx, userID, channel, address)
	return args.Error(0)
}

func (m *MockPushNotifications) DeleteUserEndpoint(ctx context.Context, userID string, channel ports.Channel) error {
	args := m.Called(ctx, userID, channel)
	return args.Error(0)
}

func (m *MockPushNotifications) EnableUserEndpoints(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockPushNotifications) DisableUserEndpoints(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockPushNotifications) DeleteUserEndpoints(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

// MockAnalytics is a mock implementation of ports.Analytics
type MockAnalytics struct {
	mock.Mock
}

func (m *MockAnalytics) SendEvent(ctx context.Context, userID string, newItem, oldItem stream.Item) error {
	args := m.Called(ctx, userID, newItem, oldItem)
	return args.Error(0)
}

// Sent is one captured realtime notification.
type Sent struct {
	Query     string
	Variables map[string]any
}

// RecordingRealtime captures realtime notifications. Err, when set, is
// returned from every Send.
type RecordingRealtime struct {
	mu   sync.Mutex
	sent []Sent
	Err  error
}

func (r *RecordingRealtime) Send(ctx context.Context, query string, variables map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, Sent{Query: query, Variables: variables})
	return nil
}

// Sent returns the captured notifications in order.
func (r *RecordingRealtime) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Recipients lists the userId input of every captured notification.
func (r *RecordingRealtime) Recipients() []string {
	var out []string
	for _, s := range r.Sent() {
		input, _ := s.Variables["input"].(map[string]any)
		if id, ok := input["userId"].(string); ok {
			out = append(out, id)
		}
	}
	return out
}
