package module

import (
	"context"
	"sync/atomic"
)

// Text is a module with fixed content.
type Text struct {
	name    string
	content string
	ready   atomic.Bool
}

// NewText constructs a static module.
func NewText(name, content string) *Text {
	return &Text{name: name, content: content}
}

func (t *Text) Name() string { return t.name }

func (t *Text) Start(_ context.Context, notify func()) error {
	t.ready.Store(true)
	if notify != nil {
		notify()
	}
	return nil
}

func (t *Text) Stop() { t.ready.Store(false) }

func (t *Text) Ready() bool { return t.ready.Load() }

func (t *Text) Output() (string, error) {
	if !t.ready.Load() {
		return "", notReady(t.name)
	}
	return t.content, nil
}
