package penguiflow

import "time"

// Option configures a Flow before Run is called, using the standard Go
// functional-options pattern so new settings can be added without breaking
// existing callers.
type Option func(*flowConfig)

type flowConfig struct {
	ingressCapacity int
	egressCapacity  int
	edgeCapacity    int
	registry        *SchemaRegistry
	middleware      []Middleware
	store           Store
	publish         PublishHook
	hookTimeout     time.Duration
}

func defaultFlowConfig() flowConfig {
	return flowConfig{
		ingressCapacity: DefaultFloeCapacity,
		egressCapacity:  DefaultFloeCapacity,
		edgeCapacity:    DefaultFloeCapacity,
		store:           noopStore{},
		hookTimeout:     5 * time.Second,
	}
}

// WithIngressCapacity sets the OpenSea floe's bounded capacity.
// Default: DefaultFloeCapacity (64).
func WithIngressCapacity(n int) Option {
	return func(c *flowConfig) { c.ingressCapacity = n }
}

// WithEgressCapacity sets the Rookery floe's bounded capacity.
// Default: DefaultFloeCapacity (64).
func WithEgressCapacity(n int) Option {
	return func(c *flowConfig) { c.egressCapacity = n }
}

// WithEdgeCapacity sets the bounded capacity of every internal node-to-node
// edge floe; all edges share this one value, with no per-edge override.
// Default: DefaultFloeCapacity (64).
func WithEdgeCapacity(n int) Option {
	return func(c *flowConfig) { c.edgeCapacity = n }
}

// WithRegistry attaches a SchemaRegistry used for validation when a node's
// NodePolicy.Validate requests it.
func WithRegistry(r *SchemaRegistry) Option {
	return func(c *flowConfig) { c.registry = r }
}

// WithMiddleware appends middleware to the chain run, in insertion order,
// before every event reaches the state hook. Must be
// attached before Run is called.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *flowConfig) { c.middleware = append(c.middleware, mw...) }
}

// WithStateStore attaches the state hook.
func WithStateStore(s Store) Option {
	return func(c *flowConfig) {
		if s != nil {
			c.store = s
		}
	}
}

// WithPublishHook attaches the message-bus publish hook.
func WithPublishHook(p PublishHook) Option {
	return func(c *flowConfig) { c.publish = p }
}

// WithHookTimeout bounds how long the runtime awaits a single Store call
// before abandoning it. Default: 5s.
func WithHookTimeout(d time.Duration) Option {
	return func(c *flowConfig) {
		if d > 0 {
			c.hookTimeout = d
		}
	}
}
