package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditAction enumerates the security actions recorded by the manager.
type AuditAction string

const (
	AuditLogin                AuditAction = "login"
	AuditLoginFailed          AuditAction = "login_failed"
	AuditSignup               AuditAction = "signup"
	AuditSignupFailed         AuditAction = "signup_failed"
	AuditLogout               AuditAction = "logout"
	AuditPasswordReset        AuditAction = "password_reset"
	AuditPasswordResetFailed  AuditAction = "password_reset_failed"
	AuditPasswordUpdate       AuditAction = "password_update"
	AuditPasswordUpdateFailed AuditAction = "password_update_failed"
	AuditProfileUpdate        AuditAction = "profile_update"
)

// AuditSink is the append only security event log.
type AuditSink interface {
	LogEvent(ctx context.Context, event SecurityEvent) (string, error)
}

// AuditSinkFunc adapts a function to the AuditSink interface.
type AuditSinkFunc func(ctx context.Context, event SecurityEvent) (string, error)

// LogEvent implements AuditSink.
func (f AuditSinkFunc) LogEvent(ctx context.Context, event SecurityEvent) (string, error) {
	if f == nil {
		return "", nil
	}
	return f(ctx, event)
}

type noopAuditSink struct{}

func (noopAuditSink) LogEvent(context.Context, SecurityEvent) (string, error) {
	return "", nil
}

func normalizeAuditSink(s AuditSink) AuditSink {
	if s == nil {
		return noopAuditSink{}
	}
	return s
}

// AuditDecorator enriches event details before delivery, hosts use it to
// correlate their own identity.
type AuditDecorator func(details map[string]any) map[string]any

const (
	defaultAuditBuffer       = 64
	defaultAuditWriteTimeout = 5 * time.Second
)

// auditDispatcher delivers events in enqueue order on its own goroutine.
// Enqueue never blocks: when the buffer is full the event is dropped.
type auditDispatcher struct {
	sink         AuditSink
	logger       Logger
	decorate     AuditDecorator
	now          func() time.Time
	writeTimeout time.Duration

	queue  chan SecurityEvent
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func newAuditDispatcher(sink AuditSink, logger Logger, buffer int, now func() time.Time) *auditDispatcher {
	if buffer <= 0 {
		buffer = defaultAuditBuffer
	}
	if now == nil {
		now = time.Now
	}
	d := &auditDispatcher{
		sink:         normalizeAuditSink(sink),
		logger:       normalizeLogger(logger),
		now:          now,
		writeTimeout: defaultAuditWriteTimeout,
		queue:        make(chan SecurityEvent, buffer),
		done:         make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *auditDispatcher) deliver(event SecurityEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("audit sink panic", "action", event.ActionType, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.writeTimeout)
	defer cancel()

	if _, err := d.sink.LogEvent(ctx, event); err != nil {
		d.logger.Warn("audit sink error", "action", event.ActionType, "user_id", event.UserID, "error", err)
	}
}

// Record enqueues an event. It returns false when the event was dropped.
func (d *auditDispatcher) Record(userID string, action AuditAction, details map[string]any, success bool) bool {
	return d.enqueue(d.newEvent(userID, action, details, success), false)
}

// RecordReliable enqueues like Record, but when the buffer is full the event
// is written on the calling goroutine instead of dropped. An event written
// that way may reach the sink ahead of queued ones.
func (d *auditDispatcher) RecordReliable(userID string, action AuditAction, details map[string]any, success bool) bool {
	return d.enqueue(d.newEvent(userID, action, details, success), true)
}

func (d *auditDispatcher) newEvent(userID string, action AuditAction, details map[string]any, success bool) SecurityEvent {
	event := SecurityEvent{
		ID:         uuid.New(),
		UserID:     userID,
		ActionType: action,
		Details:    cloneDetails(details),
		Success:    success,
		Timestamp:  d.now().UTC(),
	}
	if d.decorate != nil {
		event.Details = d.decorate(event.Details)
	}
	return event
}

func (d *auditDispatcher) enqueue(event SecurityEvent, inlineOnOverflow bool) bool {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.logger.Warn("audit dispatcher closed, dropping event", "action", event.ActionType)
		return false
	}
	select {
	case d.queue <- event:
		d.mu.RUnlock()
		return true
	default:
	}
	d.mu.RUnlock()

	if !inlineOnOverflow {
		d.logger.Warn("audit buffer full, dropping event", "action", event.ActionType, "user_id", event.UserID)
		return false
	}
	d.logger.Warn("audit buffer full, writing event inline", "action", event.ActionType, "user_id", event.UserID)
	d.deliver(event)
	return true
}

// Close stops accepting events and waits for pending ones until timeout.
func (d *auditDispatcher) Close(timeout time.Duration) {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	if timeout <= 0 {
		<-d.done
		return
	}

	select {
	case <-d.done:
	case <-time.After(timeout):
		d.logger.Warn("audit dispatcher drain timed out", "pending", len(d.queue))
	}
}

func cloneDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}
