package botcore

// Matcher decides whether a route should handle an Update.
type Matcher func(update Update) bool

// Handler is a PipelineInvoker under a route-table-friendly name.
type Handler PipelineInvoker

// Route is a single routing rule.
type Route struct {
	Name    string
	Matcher Matcher
	Handler Handler
}

// Chain is a first-match-wins route table with an optional default.
type Chain struct {
	routes         []Route
	defaultHandler Handler
}

// NewChain creates a Chain with the given fallback handler.
func NewChain(defaultHandler Handler) *Chain {
	return &Chain{defaultHandler: defaultHandler}
}

// AddRoute appends a routing rule; rules are tried in insertion order.
func (c *Chain) AddRoute(name string, matcher Matcher, handler Handler) {
	c.routes = append(c.routes, Route{Name: name, Matcher: matcher, Handler: handler})
}

// Trigger implements PipelineInvoker.
func (c *Chain) Trigger(update Update, streamID string) <-chan StreamChunk {
	for _, route := range c.routes {
		if route.Matcher(update) {
			return route.Handler.Trigger(update, streamID)
		}
	}
	if c.defaultHandler != nil {
		return c.defaultHandler.Trigger(update, streamID)
	}
	return nil
}

// MatchPrefix matches Updates whose Text starts with prefix.
func MatchPrefix(prefix string) Matcher {
	return func(u Update) bool {
		return len(u.Text) >= len(prefix) && u.Text[0:len(prefix)] == prefix
	}
}

// MatchAny always matches.
func MatchAny() Matcher {
	return func(Update) bool { return true }
}
