package adapter

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "bosstracker/internal/transport"
	logx "bosstracker/pkg/logx"
)

// Bot API limit is 4096 runes; keep headroom for entities.
const textLimit = 4000

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt != nil {
		so.ParseMode = opt.ParseMode
		so.DisableWebPagePreview = opt.DisablePreview
		so.DisableNotification = opt.Silent
	}
	return so
}

// SendText posts text, split at line boundaries when it exceeds the Bot API
// limit. The returned ref points at the first part.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	chat := &tele.Chat{ID: to.ChatID}
	so := sendOptions(to, opt)

	var first kit.MessageRef
	for i, part := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, part, so)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText replaces the text of ref. Over-long text is truncated since an
// edit cannot grow into several messages.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	so := sendOptions(kit.ChatTarget{ChatID: ref.ChatID, ThreadID: ref.ThreadID}, opt)
	if _, err := a.bot.Edit(m, truncateRunes(text, textLimit), so); err != nil {
		// Re-sending identical text is a no-op, not a failure.
		if errors.Is(err, tele.ErrSameMessageContent) {
			return nil
		}
		return err
	}
	return nil
}

// Pin pins ref without notifying chat members.
func (a *Adapter) Pin(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	return a.bot.Pin(m, tele.Silent)
}

// Unpin unpins ref. Messages that were deleted or already unpinned are not
// reported as errors.
func (a *Adapter) Unpin(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := a.bot.Unpin(&tele.Chat{ID: ref.ChatID}, ref.MessageID)
	if err != nil && isGoneErr(err) {
		a.log.Debug("unpin ignored", logx.Int("msg_id", ref.MessageID), logx.Err(err))
		return nil
	}
	return err
}

func isGoneErr(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "message to unpin not found") || strings.Contains(s, "message not found")
}

// splitText cuts s into parts of at most limit runes, preferring to cut after
// a newline in the last two thirds of the window.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var parts []string
	for len(rs) > 0 {
		end := min(limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		parts = append(parts, strings.TrimRight(string(rs[:end]), "\n"))
		rs = rs[end:]
		for len(rs) > 0 && rs[0] == '\n' {
			rs = rs[1:]
		}
	}
	return parts
}

func truncateRunes(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}
