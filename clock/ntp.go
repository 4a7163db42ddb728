package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"go.uber.org/zap"
)

// DefaultServer is the pool the original devices used.
const DefaultServer = "pool.ntp.org"

// queryFunc returns the offset between the local clock and server time.
type queryFunc func(server string) (time.Duration, error)

// NTP is a Source backed by an NTP server. It reports ErrNotSynced until a
// valid response has been received.
type NTP struct {
	server string
	log    *zap.Logger
	query  queryFunc
	now    func() time.Time

	mu     sync.RWMutex
	offset time.Duration
	synced bool
}

// NewNTP returns an unsynchronized source for server.
func NewNTP(server string, log *zap.Logger) *NTP {
	if server == "" {
		server = DefaultServer
	}
	if log == nil {
		log = zap.L()
	}
	return &NTP{server: server, log: log, query: queryNTP, now: time.Now}
}

func queryNTP(server string) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: 5 * time.Second})
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// SyncOnce queries the server a single time.
func (n *NTP) SyncOnce() error {
	off, err := n.query(n.server)
	if err != nil {
		return fmt.Errorf("ntp query %s: %w", n.server, err)
	}
	n.mu.Lock()
	n.offset = off
	n.synced = true
	n.mu.Unlock()
	n.log.Info("time synchronized", zap.String("server", n.server), zap.Duration("offset", off))
	return nil
}

// Sync retries SyncOnce every retry until it succeeds or ctx is done.
func (n *NTP) Sync(ctx context.Context, retry time.Duration) error {
	for {
		err := n.SyncOnce()
		if err == nil {
			return nil
		}
		n.log.Warn("time sync failed", zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

func (n *NTP) Now() (time.Time, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.synced {
		return time.Time{}, ErrNotSynced
	}
	return n.now().Add(n.offset), nil
}
