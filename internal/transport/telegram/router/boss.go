package router

import (
	"context"
	"time"
)

// Tracker is the subset of tracker.Tracker driven by chat commands.
type Tracker interface {
	Kill(ctx context.Context) error
	SetNextEncounter(ctx context.Context, d time.Duration) error
	SetLevel(ctx context.Context, n int) error
	QueryLevel(ctx context.Context) error
	QueryHistory(ctx context.Context) error
	QueryTimer(ctx context.Context) error
	Reload(ctx context.Context) error
}

const (
	msgTimeUpdated   = "Boss time updated"
	msgBadParams     = "Incorrect params. Correct usage is:"
	msgBadLevel      = "Given level must be a valid number"
	msgReloaded      = "State reloaded from storage"
	maxNextArgCount  = 3
	maxLevelArgCount = 1
)

// BossCommands maps the chat command surface onto t.
func BossCommands(t Tracker) []Command {
	return []Command{
		{
			Name:        "kill",
			Description: "Marks the boss as killed and starts a new timer",
			Handle: func(ctx context.Context, req *Request) error {
				return t.Kill(ctx)
			},
		},
		{
			Name:        "next",
			Description: "Sets the next boss time. Usage: '/next 5:15:12'",
			Usage:       nextUsage,
			Handle: func(ctx context.Context, req *Request) error {
				if len(req.Args) == 0 || len(req.Args) > maxNextArgCount {
					return invalid(msgBadParams, nextUsage)
				}
				d, ok := ParseDuration(req.Args)
				if !ok {
					return invalid(msgBadParams, nextUsage)
				}
				if err := t.SetNextEncounter(ctx, d); err != nil {
					return err
				}
				req.Reply(ctx, msgTimeUpdated, nil)
				return nil
			},
		},
		{
			Name:        "history",
			Description: "Show the kill history",
			Handle: func(ctx context.Context, req *Request) error {
				return t.QueryHistory(ctx)
			},
		},
		{
			Name:        "level",
			Description: "Get and set the current boss level",
			Usage:       levelUsage,
			Handle: func(ctx context.Context, req *Request) error {
				switch len(req.Args) {
				case 0:
					return t.QueryLevel(ctx)
				case maxLevelArgCount:
					n, ok := ParseLevel(req.Args[0])
					if !ok {
						return invalid(msgBadLevel, "")
					}
					return t.SetLevel(ctx, n)
				default:
					return invalid(msgBadParams, levelUsage)
				}
			},
		},
		{
			Name:        "timer",
			Description: "Display the next boss time",
			Handle: func(ctx context.Context, req *Request) error {
				return t.QueryTimer(ctx)
			},
		},
		{
			Name:        "reload",
			Description: "Reload the tracker state from storage",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				if err := t.Reload(ctx); err != nil {
					return err
				}
				req.Reply(ctx, msgReloaded, nil)
				return nil
			},
		},
	}
}
