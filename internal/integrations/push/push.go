package push

import (
	"context"
	"sync"
)

type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

type Notifier interface {
	Notify(ctx context.Context, token string, n Notification) error
}

// Noop drops every notification.
type Noop struct{}

func (Noop) Notify(ctx context.Context, token string, n Notification) error { return nil }

// Recorder keeps notifications in memory; handy for local runs and tests.
type Recorder struct {
	mu   sync.Mutex
	Sent []Sent
	Err  error
}

type Sent struct {
	Token        string
	Notification Notification
}

func (r *Recorder) Notify(ctx context.Context, token string, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Sent = append(r.Sent, Sent{Token: token, Notification: n})
	return nil
}

func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Sent)
}
