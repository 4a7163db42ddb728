package rnet

import (
	"encoding/json"
	"net"

	"go.uber.org/zap"

	"gitlab.com/lologarithm/cloudthermo/refuge"
)

// Announcer writes each record as json to a udp (multicast) address. Any
// listener on the lan that decodes json events can follow the readings.
type Announcer struct {
	conn *net.UDPConn
	log  *zap.Logger
}

// NewAnnouncer dials addr, RefugeMessages when empty.
func NewAnnouncer(addr string, log *zap.Logger) (*Announcer, error) {
	if addr == "" {
		addr = RefugeMessages
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.L()
	}
	return &Announcer{conn: conn, log: log}, nil
}

// Observe implements node.Observer. Actuator updates are not announced.
func (a *Announcer) Observe(e refuge.Event) {
	if e.Record == nil {
		return
	}
	msg, err := json.Marshal(e)
	if err != nil {
		a.log.Error("failed to marshal record", zap.Error(err))
		return
	}
	if _, err := a.conn.Write(msg); err != nil {
		a.log.Warn("announce failed", zap.Error(err))
	}
}

func (a *Announcer) Close() error {
	return a.conn.Close()
}
