package activitymap

import (
	"context"
	"strings"
	"time"

	auth "github.com/goliatone/go-auth-session"
)

const (
	// MetadataKeySuccess stores the outcome of the audited action.
	MetadataKeySuccess = "success"
	// MetadataKeyEventID stores the security event id.
	MetadataKeyEventID = "event_id"
	// MetadataKeyHostUserID is the container assigned id added by the embedded host.
	MetadataKeyHostUserID = "host_user_id"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "user"
	defaultActorID    = "anonymous"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(auth.SecurityEvent) string
}

// Normalize converts an auth.SecurityEvent into a generic normalized shape.
func Normalize(event auth.SecurityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.UserID),
		detailString(event.Details, MetadataKeyHostUserID),
		strings.TrimSpace(options.actorFallback),
	)

	occurredAt := event.Timestamp
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.ActionType),
		ObjectType: strings.TrimSpace(options.objectType),
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from SecurityEvent.
func WithObjectIDResolver(resolver func(auth.SecurityEvent) string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the final actor-id fallback for anonymous events.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// Forwarder receives normalized events.
type Forwarder func(ctx context.Context, record Normalized) error

// Sink is an auth.AuditSink that stores events in Next, when set, and then
// forwards the normalized record.
type Sink struct {
	Next    auth.AuditSink
	Forward Forwarder
	Options []Option
}

var _ auth.AuditSink = Sink{}

// NewSink returns a sink chaining next and forward.
func NewSink(next auth.AuditSink, forward Forwarder, opts ...Option) Sink {
	return Sink{Next: next, Forward: forward, Options: opts}
}

// LogEvent implements auth.AuditSink. A forward failure is only reported
// when there is no Next sink.
func (s Sink) LogEvent(ctx context.Context, event auth.SecurityEvent) (string, error) {
	id := event.ID.String()
	if s.Next != nil {
		stored, err := s.Next.LogEvent(ctx, event)
		if err != nil {
			return "", err
		}
		if stored != "" {
			id = stored
		}
	}

	if s.Forward == nil {
		return id, nil
	}

	record := Normalize(event, s.Options...)
	if record.Metadata == nil {
		record.Metadata = map[string]any{}
	}
	record.Metadata[MetadataKeyEventID] = id

	if err := s.Forward(ctx, record); err != nil && s.Next == nil {
		return "", err
	}
	return id, nil
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func resolveObjectID(event auth.SecurityEvent, resolver func(auth.SecurityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	return firstNonEmpty(
		strings.TrimSpace(event.UserID),
		detailString(event.Details, "email"),
	)
}

func normalizeMetadata(event auth.SecurityEvent) map[string]any {
	metadata := cloneMap(event.Details)
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata[MetadataKeySuccess] = event.Success
	return metadata
}

func detailString(details map[string]any, key string) string {
	if details == nil {
		return ""
	}
	v, _ := details[key].(string)
	return strings.TrimSpace(v)
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
