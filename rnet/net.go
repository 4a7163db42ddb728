package rnet

import (
	"context"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RefugeMessages is the multicast address refuge devices announce state on.
const RefugeMessages = "225.1.2.3:8765"

// onlinePoll is how often WaitOnline checks the interfaces.
const onlinePoll = 333 * time.Millisecond

// MyIPs lists the ipv4 addresses of every up, non-loopback, multicast capable interface.
func MyIPs() (mine []string, err error) {
	itfs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, itf := range itfs {
		switch {
		case itf.Flags&net.FlagUp != net.FlagUp:
			continue // skip down interfaces
		case itf.Flags&net.FlagLoopback == net.FlagLoopback:
			continue // skip loopbacks
		case itf.HardwareAddr == nil:
			continue // not real network hardware
		case strings.Contains(itf.Name, "docker"):
			continue // ignore docker network
		}
		if multi, err := itf.MulticastAddrs(); err != nil || len(multi) == 0 {
			continue // no multicast
		}

		addrs, err := itf.Addrs()
		if err != nil {
			return nil, err
		}
		for _, addr := range addrs {
			ip, _, err := net.ParseCIDR(addr.String())
			if err != nil {
				continue
			}
			ipv4 := ip.To4()
			if ipv4 == nil {
				continue // skip non-ipv4 addrs
			}
			mine = append(mine, ipv4.String())
		}
	}
	return mine, nil
}

// WaitOnline blocks until the node has an ipv4 address. The operating system
// owns the wifi association; this only waits for it.
func WaitOnline(ctx context.Context, log *zap.Logger) (string, error) {
	return waitOnline(ctx, log, MyIPs)
}

func waitOnline(ctx context.Context, log *zap.Logger, ips func() ([]string, error)) (string, error) {
	log.Info("waiting for network")
	ticker := time.NewTicker(onlinePoll)
	defer ticker.Stop()
	for {
		addrs, err := ips()
		if err != nil {
			log.Warn("listing interfaces failed", zap.Error(err))
		}
		if len(addrs) > 0 {
			log.Info("network connected", zap.String("ip", addrs[0]))
			return addrs[0], nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
