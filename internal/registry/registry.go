// Package registry keeps the push channel's topic subscriptions in step with
// the session user and the clans they belong to.
package registry

import (
	"log/slog"
	"sort"
	"sync"

	"gigsync/internal/logger"
	"gigsync/internal/metrics"
	"gigsync/internal/transport"
)

// State is the lifecycle state of one topic subscription. A topic with no
// entry is unsubscribed.
type State string

const (
	StatePending State = "pending"
	StateActive  State = "active"
	StateClosing State = "closing"
)

// Sender delivers subscription control messages. The transport manager
// implements it; the registry never touches the connection itself.
type Sender interface {
	SendControl(action transport.Action, topic string) error
}

// Subscription is a topic and its state.
type Subscription struct {
	Topic string `json:"topic"`
	State State  `json:"state"`
}

func UserTopic(id string) string  { return "user:" + id }
func GroupTopic(id string) string { return "group:" + id }

// Registry derives the desired topic set and reconciles it with the server
// side through control messages. It only sends while the channel is open;
// after a reconnect the whole desired set is subscribed again.
type Registry struct {
	sender Sender
	logger *logger.Logger

	mu        sync.Mutex
	user      string
	groups    map[string]struct{}
	subs      map[string]State
	connected bool
}

// New creates a registry that sends control messages through sender.
func New(sender Sender, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Discard()
	}
	return &Registry{
		sender: sender,
		logger: log.WithComponent("registry"),
		groups: make(map[string]struct{}),
		subs:   make(map[string]State),
	}
}

// SetUser sets the session user. An empty id drops the user topic.
func (r *Registry) SetUser(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.user = id
	r.reconcileLocked()
}

// SetGroups replaces the clan membership set.
func (r *Registry) SetGroups(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			r.groups[id] = struct{}{}
		}
	}
	r.reconcileLocked()
}

// Desired returns the topics the session should be subscribed to, sorted.
func (r *Registry) Desired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.desiredLocked())
}

// Snapshot lists tracked subscriptions sorted by topic.
func (r *Registry) Snapshot() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Subscription, 0, len(r.subs))
	for topic, state := range r.subs {
		out = append(out, Subscription{Topic: topic, State: state})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Connected resubscribes the entire desired set. The server keeps no
// subscription state across connections.
func (r *Registry) Connected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = true
	r.subs = make(map[string]State)
	r.reconcileLocked()
}

// Disconnected forgets every subscription.
func (r *Registry) Disconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = false
	r.subs = make(map[string]State)
	r.updateGaugeLocked()
}

// Acknowledged advances a topic after the server confirms a control message.
func (r *Registry) Acknowledged(action transport.Action, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, tracked := r.subs[topic]
	_, wanted := r.desiredLocked()[topic]

	switch {
	case action == transport.ActionSubscribe && tracked && state == StatePending:
		if wanted {
			r.subs[topic] = StateActive
		} else {
			// Removed while the subscribe was in flight.
			r.sendLocked(transport.ActionUnsubscribe, topic, StateClosing)
		}
	case action == transport.ActionUnsubscribe && tracked && state == StateClosing:
		delete(r.subs, topic)
		if wanted {
			r.sendLocked(transport.ActionSubscribe, topic, StatePending)
		}
	default:
		r.logger.Debug("ignoring unexpected ack",
			slog.String("action", string(action)),
			slog.String("topic", topic))
	}
	r.updateGaugeLocked()
}

func (r *Registry) desiredLocked() map[string]struct{} {
	desired := make(map[string]struct{}, len(r.groups)+1)
	if r.user != "" {
		desired[UserTopic(r.user)] = struct{}{}
	}
	for id := range r.groups {
		desired[GroupTopic(id)] = struct{}{}
	}
	return desired
}

// reconcileLocked sends only the control messages needed to move the tracked
// subscriptions toward the desired set. Pending and closing topics settle in
// Acknowledged.
func (r *Registry) reconcileLocked() {
	if !r.connected {
		return
	}
	desired := r.desiredLocked()

	for _, topic := range sortedKeys(desired) {
		if _, tracked := r.subs[topic]; !tracked {
			r.sendLocked(transport.ActionSubscribe, topic, StatePending)
		}
	}
	for _, topic := range sortedKeys(r.subs) {
		if _, wanted := desired[topic]; wanted {
			continue
		}
		if r.subs[topic] == StateActive {
			r.sendLocked(transport.ActionUnsubscribe, topic, StateClosing)
		}
	}
	r.updateGaugeLocked()
}

func (r *Registry) sendLocked(action transport.Action, topic string, next State) {
	if err := r.sender.SendControl(action, topic); err != nil {
		// The next Connected resyncs from the desired set.
		r.logger.Warn("control message not sent",
			slog.String("action", string(action)),
			slog.String("topic", topic),
			slog.String("error", err.Error()))
		delete(r.subs, topic)
		return
	}
	r.subs[topic] = next
}

func (r *Registry) updateGaugeLocked() {
	active := 0
	for _, s := range r.subs {
		if s == StateActive {
			active++
		}
	}
	metrics.ActiveTopics.Set(float64(active))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ Sender = (*transport.Manager)(nil)
