package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"rudder/pkg/logging"
)

// UnresolvableError reports a notification that could not be mapped to a
// known resource. Such messages are counted and dropped, never retried.
type UnresolvableError struct {
	TenantID string
	Detail   string
}

func (e *UnresolvableError) Error() string {
	return fmt.Sprintf("unresolvable notification (tenant %q): %s", e.TenantID, e.Detail)
}

// Resolver looks up the resource a tenant-scoped notification addresses when
// the notification itself does not name one.
type Resolver interface {
	// DefaultResource returns the resource id for a tenant's router when a
	// notification omits it.
	DefaultResource(ctx context.Context, tenantID string) (string, error)
}

// DropCounter records undeliverable notifications. Implemented by the
// metrics package; a nil counter is allowed.
type DropCounter interface {
	IncUndeliverable(reason string)
}

// envelope is the wire shape of an inbound notification. Only the fields the
// dispatcher needs are specified; everything else rides along in Payload.
type envelope struct {
	ResourceID string                 `json:"resource_id"`
	TenantID   string                 `json:"tenant_id"`
	EventType  string                 `json:"event_type"`
	Payload    map[string]interface{} `json:"payload"`
}

// Normalizer converts heterogeneous inbound notifications into Events.
type Normalizer struct {
	resolver Resolver
	drops    DropCounter
}

// NewNormalizer creates a normalizer. resolver may be nil, in which case
// notifications without a resource id are undeliverable.
func NewNormalizer(resolver Resolver, drops DropCounter) *Normalizer {
	return &Normalizer{resolver: resolver, drops: drops}
}

// Normalize parses a raw notification and produces an Event, or nil with an
// *UnresolvableError when the source cannot be mapped to a known resource.
// Unknown event types are mapped to KindUpdate so every unrecognized signal
// still triggers reconciliation.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		n.countDrop("malformed")
		return nil, &UnresolvableError{Detail: fmt.Sprintf("malformed notification: %v", err)}
	}

	if env.TenantID == "" {
		n.countDrop("missing-tenant")
		return nil, &UnresolvableError{Detail: "notification has no tenant_id"}
	}

	resourceID := env.ResourceID
	if resourceID == "" {
		if n.resolver == nil {
			n.countDrop("missing-resource")
			return nil, &UnresolvableError{TenantID: env.TenantID, Detail: "notification has no resource_id"}
		}
		id, err := n.resolver.DefaultResource(ctx, env.TenantID)
		if err != nil || id == "" {
			n.countDrop("unknown-resource")
			return nil, &UnresolvableError{TenantID: env.TenantID, Detail: fmt.Sprintf("no resource for tenant: %v", err)}
		}
		resourceID = id
	}

	kind := classify(env.EventType)
	if kind == KindUpdate && !knownEventType(env.EventType) {
		logging.Debug("Normalizer", "unknown event type %q for %s, treating as update", env.EventType, resourceID)
	}

	return &Event{
		ResourceID: resourceID,
		TenantID:   env.TenantID,
		Kind:       kind,
		ReceivedAt: time.Now(),
		Payload:    env.Payload,
	}, nil
}

func (n *Normalizer) countDrop(reason string) {
	if n.drops != nil {
		n.drops.IncUndeliverable(reason)
	}
}

// classify maps a source event type to an event kind. Event types follow the
// "subsystem.action" convention of the network and compute control planes
// (e.g. "router.create", "port.update", "instance.power_off").
func classify(eventType string) Kind {
	action := eventType
	if i := strings.LastIndexByte(eventType, '.'); i >= 0 {
		action = eventType[i+1:]
	}
	switch action {
	case "create":
		return KindCreate
	case "delete":
		return KindDelete
	case "update", "end":
		return KindUpdate
	case "poll":
		return KindPoll
	default:
		// Unknown signals still trigger reconciliation.
		return KindUpdate
	}
}

func knownEventType(eventType string) bool {
	switch classify(eventType) {
	case KindCreate, KindDelete, KindPoll:
		return true
	}
	action := eventType
	if i := strings.LastIndexByte(eventType, '.'); i >= 0 {
		action = eventType[i+1:]
	}
	return action == "update" || action == "end"
}
