package suggest

import (
	"context"
	"strings"

	"golang.org/x/sync/singleflight"
)

// Coalescing shares one upstream call between concurrent requests for the
// same topic (compared case-insensitively).
type Coalescing struct {
	next  Suggester
	group singleflight.Group
}

func NewCoalescing(next Suggester) *Coalescing {
	return &Coalescing{next: next}
}

func (c *Coalescing) Suggest(ctx context.Context, topic string) ([]string, error) {
	key := strings.ToLower(strings.Join(strings.Fields(topic), " "))
	v, err, _ := c.group.Do(key, func() (any, error) {
		// Detached so one caller leaving does not fail the others; the
		// client's HTTP timeout bounds the call instead.
		return c.next.Suggest(context.WithoutCancel(ctx), topic)
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]string)
	out := make([]string, len(shared))
	copy(out, shared)
	return out, nil
}
