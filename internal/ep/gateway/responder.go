package gateway

import (
	"context"
	"time"

	"github.com/xl370869-art/wecom/internal/ep/client"
)

// ActiveResponder adapts internal/ep/client.Client into the command
// package's botcore.ActiveResponder (which carries no context parameter),
// so the cobra command tree can push a reply outside the normal
// request/response cycle without importing the HTTP client directly.
type ActiveResponder struct {
	Client  *client.Client
	Timeout time.Duration
}

// NewActiveResponder builds an ActiveResponder with a 15s default timeout.
func NewActiveResponder(c *client.Client) *ActiveResponder {
	return &ActiveResponder{Client: c, Timeout: 15 * time.Second}
}

func (r *ActiveResponder) ctx() (context.Context, context.CancelFunc) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// Send implements botcore.ActiveResponder.
func (r *ActiveResponder) Send(responseURL string, msg interface{}) error {
	ctx, cancel := r.ctx()
	defer cancel()
	return r.Client.SendViaResponseURL(ctx, responseURL, msg)
}

// SendMarkdown implements botcore.ActiveResponder.
func (r *ActiveResponder) SendMarkdown(responseURL, content string) error {
	ctx, cancel := r.ctx()
	defer cancel()
	return r.Client.SendMarkdown(ctx, responseURL, content)
}

// SendTemplateCard implements botcore.ActiveResponder.
func (r *ActiveResponder) SendTemplateCard(responseURL string, card interface{}) error {
	ctx, cancel := r.ctx()
	defer cancel()
	return r.Client.SendTemplateCard(ctx, responseURL, card)
}
