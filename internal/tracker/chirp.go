package tracker

import (
	"strings"
	"time"
)

// ChirpPlaceholder is replaced with the formatted overtime in chirp templates.
const ChirpPlaceholder = "{T}"

// ChirpEscalator sends escalating reminders while the boss is up and nobody
// has recorded a kill.
type ChirpEscalator struct {
	delay     time.Duration
	templates []string

	active   bool
	deadline time.Time
	next     time.Time
	index    int
}

func NewChirpEscalator(delay time.Duration, templates []string) *ChirpEscalator {
	return &ChirpEscalator{delay: delay, templates: append([]string(nil), templates...)}
}

func (c *ChirpEscalator) Active() bool { return c.active }

// Activate starts a cycle for an encounter that became due at deadline.
func (c *ChirpEscalator) Activate(deadline time.Time) {
	c.active = true
	c.deadline = deadline
	c.next = deadline.Add(c.delay)
	c.index = 0
}

// Reset deactivates the cycle.
func (c *ChirpEscalator) Reset() {
	c.active = false
	c.deadline = time.Time{}
	c.next = time.Time{}
	c.index = 0
}

// Step returns the chirp to send at now, if one is due.
func (c *ChirpEscalator) Step(now time.Time) (string, bool) {
	if !c.active || len(c.templates) == 0 || c.delay <= 0 || now.Before(c.next) {
		return "", false
	}
	overtime := FormatDuration(wholeSeconds(now.Sub(c.deadline)))
	text := strings.ReplaceAll(c.templates[c.index], ChirpPlaceholder, overtime)
	c.next = c.next.Add(c.delay)
	c.index = (c.index + 1) % len(c.templates)
	return text, true
}

// NextAt returns when the next chirp is due (zero if inactive).
func (c *ChirpEscalator) NextAt() time.Time {
	if !c.active {
		return time.Time{}
	}
	return c.next
}
