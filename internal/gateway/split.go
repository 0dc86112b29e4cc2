package gateway

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

// Platform message limits, in characters.
const (
	TelegramMessageLimit = 4096
	DiscordMessageLimit  = 2000
	SlackMessageLimit    = 4000
)

// SplitMessage cuts text into chunks of at most limit characters, breaking at
// line boundaries where possible. Lines longer than limit are hard-split.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		chunks  []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if c := strings.TrimSpace(current.String()); c != "" {
			chunks = append(chunks, c)
		}
		current.Reset()
		size = 0
	}

	for _, line := range strings.Split(text, "\n") {
		n := utf8.RuneCountInString(line)
		if size+n+1 <= limit {
			current.WriteString(line)
			current.WriteByte('\n')
			size += n + 1
			continue
		}
		flush()
		for n > limit {
			cut := runeOffset(line, limit)
			chunks = append(chunks, line[:cut])
			line = line[cut:]
			n -= limit
		}
		current.WriteString(line)
		current.WriteByte('\n')
		size = n + 1
	}
	flush()
	return chunks
}

func runeOffset(s string, n int) int {
	i := 0
	for off := range s {
		if i == n {
			return off
		}
		i++
	}
	return len(s)
}

// newPacer limits an adapter to a steady send rate with a small burst.
func newPacer(perSecond float64, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// sendChunks splits text for the platform and delivers each chunk in order,
// waiting on the limiter between sends.
func sendChunks(ctx context.Context, limiter *rate.Limiter, text string, limit int, send func(chunk string) error) error {
	for _, chunk := range SplitMessage(text, limit) {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := send(chunk); err != nil {
			return err
		}
	}
	return nil
}
