package service

import (
	"context"
	"sync"

	"github.com/confirmd/confirmd/internal/domain/confirm"
	"github.com/confirmd/confirmd/internal/domain/event"
	"github.com/confirmd/confirmd/internal/port/eventpush"
	"github.com/confirmd/confirmd/internal/port/notifier"
)

// fakeNotifier records every notification request and can be forced to fail.
type fakeNotifier struct {
	mu       sync.Mutex
	requests []notifier.Request
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, req notifier.Request) ([]notifier.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	msgs := make([]notifier.Message, 0, len(req.Recipients)*len(req.Channels))
	for _, r := range req.Recipients {
		for _, ch := range req.Channels {
			msgs = append(msgs, notifier.Message{
				ConfirmID: req.ConfirmID,
				Recipient: r,
				Channel:   ch,
				Status:    notifier.StatusSent,
			})
		}
	}
	return msgs, nil
}

func (f *fakeNotifier) sent() []notifier.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifier.Request(nil), f.requests...)
}

// fakeEmitter records emitted events.
type fakeEmitter struct {
	mu     sync.Mutex
	events []event.Data
	err    error
}

func (f *fakeEmitter) Emit(_ context.Context, data event.Data) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, data)
	return nil
}

func (f *fakeEmitter) emitted() []event.Data {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Data(nil), f.events...)
}

func (f *fakeEmitter) has(t event.Type) bool {
	for _, e := range f.emitted() {
		if e.Type == t {
			return true
		}
	}
	return false
}

// fakePusher records pushed frames.
type fakePusher struct {
	mu     sync.Mutex
	frames []eventpush.Frame
	err    error
}

func (f *fakePusher) Push(_ context.Context, frame eventpush.Frame, targets []string) (eventpush.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return eventpush.Result{}, f.err
	}
	f.frames = append(f.frames, frame)
	return eventpush.Result{Targeted: len(targets), Delivered: len(targets)}, nil
}

func (f *fakePusher) Subscribe(_ context.Context, _, _ string) error   { return nil }
func (f *fakePusher) Unsubscribe(_ context.Context, _, _ string) error { return nil }

func (f *fakePusher) pushed() []eventpush.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]eventpush.Frame(nil), f.frames...)
}

func inReviewConfirm(id string, p confirm.Priority) *confirm.Confirm {
	return &confirm.Confirm{
		ID:        id,
		ContextID: "ctx-1",
		Type:      confirm.TypeTaskApproval,
		Priority:  p,
		Status:    confirm.StatusInReview,
		Requester: confirm.Requester{UserID: "u-requester", Role: "developer"},
		Approver:  confirm.Approver{UserID: "u-approver", Role: "lead"},
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}
