package router

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MinLevel = 1
	MaxLevel = 999
)

const (
	nextUsage  = `next h:mm:ss   (eg: "4:15:23", "21:15", "45" or "4h15m23s")`
	levelUsage = "level [###]"
)

func newReqID() string {
	id := uuid.New().String()
	// first group is plenty for log correlation
	return id[:8]
}

var (
	unitDuration  = regexp.MustCompile(`^(?:(\d{1,3})h)?(?:(\d{1,2})m)?(?:(\d{1,2})s)?$`)
	colonDuration = regexp.MustCompile(`^(?:(?:(\d{1,3})[.:])?(\d{1,2})[.:])?(\d{1,2})$`)
)

// ParseDuration parses the duration forms accepted by the next command:
// "4h", "4h15m23s", "15m", "23s", "4:15:23", "21:15", "45".
// Args are joined with whitespace removed so "4: 15" also parses.
func ParseDuration(args []string) (time.Duration, bool) {
	s := strings.Join(strings.Fields(strings.Join(args, "")), "")
	s = strings.ToLower(s)
	if s == "" {
		return 0, false
	}
	m := unitDuration.FindStringSubmatch(s)
	if m == nil {
		m = colonDuration.FindStringSubmatch(s)
	}
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	se, _ := strconv.Atoi(m[3])
	return time.Duration(h)*time.Hour + time.Duration(mi)*time.Minute + time.Duration(se)*time.Second, true
}

// ParseLevel parses a clan level in [MinLevel, MaxLevel].
func ParseLevel(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < MinLevel || n > MaxLevel {
		return 0, false
	}
	return n, true
}

// tokenizeCommandLine splits command text into tokens while supporting quotes.
//
//	/next "4:15:23"
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// commandWord extracts the command name from the first token, accepting any
// of prefixes and dropping a trailing "@botname".
func commandWord(tok string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if p == "" || !strings.HasPrefix(tok, p) {
			continue
		}
		w := strings.TrimPrefix(tok, p)
		if i := strings.IndexByte(w, '@'); i >= 0 {
			w = w[:i]
		}
		w = strings.ToLower(w)
		if w == "" {
			return "", false
		}
		return w, true
	}
	return "", false
}
