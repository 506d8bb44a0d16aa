package router

import (
	"context"
	"errors"

	"bosstracker/internal/tracker"
	kit "bosstracker/internal/transport"
	logx "bosstracker/pkg/logx"
)

const msgStorageFailure = "Something went wrong, try `reload`"

// ValidationError rejects malformed command arguments before they reach the tracker.
type ValidationError struct {
	Msg   string
	Usage string
}

func (e *ValidationError) Error() string {
	if e.Usage == "" {
		return e.Msg
	}
	return e.Msg + "\n`" + e.Usage + "`"
}

func invalid(msg, usage string) error { return &ValidationError{Msg: msg, Usage: usage} }

// outcome classifies a handler result for logs and metrics.
func outcome(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "invalid"
	case errors.Is(err, tracker.ErrStateConflict):
		return "conflict"
	case errors.Is(err, tracker.ErrPersistence):
		return "persistence"
	default:
		return "error"
	}
}

// MWReplyErrors reports handler errors to the chat.
//
// Validation errors are answered with their usage hint, state conflicts were
// already announced by the tracker, storage failures get a generic notice.
// Everything else is left to the request log.
func MWReplyErrors() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			var ve *ValidationError
			switch {
			case err == nil:
			case errors.As(err, &ve):
				req.Reply(ctx, ve.Error(), &kit.SendOptions{ParseMode: "Markdown"})
			case errors.Is(err, tracker.ErrPersistence):
				req.Logger.Error("storage failure", logx.Err(err))
				req.Reply(ctx, msgStorageFailure, &kit.SendOptions{ParseMode: "Markdown"})
			}
			return err
		}
	}
}
