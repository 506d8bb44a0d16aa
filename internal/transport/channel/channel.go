// Package channel binds a messaging adapter to one chat and exposes it as a
// tracker.Messenger.
package channel

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"bosstracker/internal/tracker"
	kit "bosstracker/internal/transport"
)

// ParseModeMarkdown is the adapter parse mode used for fenced code blocks.
const ParseModeMarkdown = "Markdown"

// Channel implements tracker.Messenger for one chat target.
//
// Message handles carry the platform message id as a decimal string.
type Channel struct {
	Adapter kit.Adapter
	Target  kit.ChatTarget
}

func New(a kit.Adapter, to kit.ChatTarget) *Channel {
	return &Channel{Adapter: a, Target: to}
}

func (c *Channel) Send(ctx context.Context, text string) (tracker.MessageHandle, error) {
	opt := &kit.SendOptions{DisablePreview: true}
	if strings.HasPrefix(text, "```") {
		opt.ParseMode = ParseModeMarkdown
	}
	ref, err := c.Adapter.SendText(ctx, c.Target, text, opt)
	if err != nil {
		return tracker.MessageHandle{}, err
	}
	return tracker.MessageHandle{ID: strconv.Itoa(ref.MessageID)}, nil
}

func (c *Channel) Edit(ctx context.Context, h tracker.MessageHandle, text string) error {
	ref, err := c.ref(h.ID)
	if err != nil {
		return err
	}
	return c.Adapter.EditText(ctx, ref, text, &kit.SendOptions{DisablePreview: true})
}

func (c *Channel) Pin(ctx context.Context, h tracker.MessageHandle) error {
	ref, err := c.ref(h.ID)
	if err != nil {
		return err
	}
	return c.Adapter.Pin(ctx, ref)
}

func (c *Channel) Unpin(ctx context.Context, h tracker.MessageHandle) error {
	return c.UnpinByID(ctx, h.ID)
}

func (c *Channel) UnpinByID(ctx context.Context, externalID string) error {
	ref, err := c.ref(externalID)
	if err != nil {
		return err
	}
	return c.Adapter.Unpin(ctx, ref)
}

func (c *Channel) ref(id string) (kit.MessageRef, error) {
	n, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil || n <= 0 {
		return kit.MessageRef{}, fmt.Errorf("invalid message id %q", id)
	}
	return kit.MessageRef{ChatID: c.Target.ChatID, ThreadID: c.Target.ThreadID, MessageID: n}, nil
}
