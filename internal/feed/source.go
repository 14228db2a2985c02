// Package feed reads chat messages from a websocket relay, rotating across
// endpoints when one keeps failing.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"CryptoBotListener/internal/services"
)

const DefaultReconnectPause = 3 * time.Second

type Source struct {
	endpoints     []string
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex

	Pause time.Duration
}

func NewSource(endpoints []string, failThreshold int) (*Source, error) {
	list := sanitizeEndpoints(endpoints)
	if len(list) == 0 {
		return nil, errors.New("feed endpoints is empty")
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	return &Source{
		endpoints:     list,
		failThreshold: failThreshold,
		Pause:         DefaultReconnectPause,
	}, nil
}

func (s *Source) Name() string { return "feed" }

// Endpoint is the relay currently in use.
func (s *Source) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoints[s.index]
}

// Run delivers messages to out until ctx is done. Connection failures never end it.
func (s *Source) Run(ctx context.Context, out chan<- services.Message) error {
	log := slog.Default().With("source", s.Name())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		endpoint, idx := s.current()
		client := NewClient(endpoint)
		if err := client.Connect(ctx); err != nil {
			log.WarnContext(ctx, "feed connect failed", "endpoint", endpoint, "error", err)
			s.noteFailure(idx)
			if !s.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		log.InfoContext(ctx, "feed connected", "endpoint", endpoint)

		err := s.consume(ctx, client, idx, out)
		client.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WarnContext(ctx, "feed read failed", "endpoint", endpoint, "error", err)
		s.noteFailure(idx)
		if !s.sleep(ctx) {
			return ctx.Err()
		}
	}
}

// consume clears the endpoint's failure count only once a frame arrives, so a
// relay that accepts and then drops every connection still rotates out.
func (s *Source) consume(ctx context.Context, client *Client, idx int, out chan<- services.Message) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-done:
		}
	}()

	healthy := false
	for {
		raw, err := client.Read()
		if err != nil {
			return err
		}
		if !healthy {
			healthy = true
			s.resetFailures(idx)
		}
		frame, ok, err := ParseFrame(raw)
		if err != nil {
			slog.Default().WarnContext(ctx, "feed frame parse failed", "error", err)
			continue
		}
		if !ok {
			continue
		}
		select {
		case out <- frame.Message():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Source) sleep(ctx context.Context) bool {
	t := time.NewTimer(s.Pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Source) current() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoints[s.index], s.index
}

func (s *Source) resetFailures(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == idx {
		s.failCount = 0
	}
}

// noteFailure rotates to the next endpoint once the current one reaches the threshold.
func (s *Source) noteFailure(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index != idx {
		return
	}
	s.failCount++
	if s.failCount >= s.failThreshold {
		s.index = (s.index + 1) % len(s.endpoints)
		s.failCount = 0
		slog.Default().Warn("feed endpoint rotated", "endpoint", s.endpoints[s.index])
	}
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
