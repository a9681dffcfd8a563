package sanctions

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/swapgate/internal/retry"
	"github.com/mbd888/swapgate/internal/validation"
)

// List is an in-memory sanctions list. The zero value is an empty list.
type List struct {
	mu        sync.RWMutex
	addresses map[string]struct{}
}

// NewList creates a list from addresses (case-insensitive).
func NewList(addresses ...string) *List {
	l := &List{}
	l.Replace(addresses)
	return l
}

func (l *List) IsSanctioned(_ context.Context, address string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.addresses[strings.ToLower(strings.TrimSpace(address))]
	return ok, nil
}

// Replace swaps in a new set of addresses atomically.
func (l *List) Replace(addresses []string) {
	next := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			next[a] = struct{}{}
		}
	}
	l.mu.Lock()
	l.addresses = next
	l.mu.Unlock()
}

// Len returns the number of listed addresses.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.addresses)
}

// ParseList reads one address per line; blank lines and '#' comments are skipped.
// Any malformed address fails the whole list.
func ParseList(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		if !validation.IsValidEthAddress(s) {
			return nil, fmt.Errorf("sanctions: line %d: invalid address %q", line, s)
		}
		out = append(out, s)
	}
	return out, sc.Err()
}

// Refresher periodically reloads a List from a URL.
type Refresher struct {
	list     *List
	url      string
	client   *http.Client
	interval time.Duration
	policy   retry.Policy
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewRefresher creates a refresher for list from url.
func NewRefresher(list *List, url string, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Refresher{
		list:     list,
		url:      url,
		client:   &http.Client{Timeout: 15 * time.Second},
		interval: interval,
		policy:   retry.DefaultPolicy,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the refresh loop is active.
func (r *Refresher) Running() bool { return r.running.Load() }

// Start loads once, then refreshes on every tick. Call in a goroutine.
func (r *Refresher) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	r.refreshLogged(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.refreshLogged(ctx)
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Refresher) refreshLogged(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		// the previous list stays in force
		r.logger.Error("sanctions list refresh failed", "url", r.url, "error", err)
		return
	}
	r.logger.Info("sanctions list refreshed", "entries", r.list.Len())
}

// Refresh fetches and swaps in the list, retrying transient failures.
func (r *Refresher) Refresh(ctx context.Context) error {
	return retry.Do(ctx, r.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("sanctions: list endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return retry.Permanent(fmt.Errorf("sanctions: list endpoint returned %d", resp.StatusCode))
		}
		addrs, err := ParseList(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return retry.Permanent(err)
		}
		r.list.Replace(addrs)
		return nil
	})
}
