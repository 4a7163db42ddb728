package rnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gitlab.com/lologarithm/cloudthermo/refuge"
)

const (
	writeWait = time.Second
	// clientQueue is how many events a slow client may fall behind before
	// it is dropped.
	clientQueue = 16
)

var upgrader = websocket.Upgrader{} // use default options

// client is one websocket connection with its own writer goroutine.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writer sends queued messages until the client is dropped.
func (h *Hub) writer(c *client) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug("dropping websocket client", zap.String("remote", c.conn.RemoteAddr().String()), zap.Error(err))
				h.drop(c)
				return
			}
		}
	}
}

// Hub pushes every node event to connected websocket clients. New clients
// first get the last record and the last actuator update.
type Hub struct {
	name string
	log  *zap.Logger

	clientslock   sync.Mutex
	clientStreams []*client
	lastRecord    []byte
	lastActuators []byte
}

func NewHub(name string, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.L()
	}
	return &Hub{name: name, log: log}
}

// Observe implements node.Observer. It only queues the event, so a stalled
// client never holds up the caller.
func (h *Hub) Observe(e refuge.Event) {
	d, err := json.Marshal(e)
	if err != nil {
		h.log.Error("failed to marshal event", zap.Error(err))
		return
	}

	h.clientslock.Lock()
	if e.Record != nil {
		h.lastRecord = d
	}
	if e.Actuators != nil {
		h.lastActuators = d
	}
	var slow []*client
	for _, c := range h.clientStreams {
		select {
		case c.send <- d:
		default:
			slow = append(slow, c)
		}
	}
	h.clientslock.Unlock()

	for _, c := range slow {
		h.log.Debug("dropping slow websocket client", zap.String("remote", c.conn.RemoteAddr().String()))
		h.drop(c)
	}
}

// drop removes c from the hub and closes it.
func (h *Hub) drop(c *client) {
	h.clientslock.Lock()
	for i, cs := range h.clientStreams {
		if cs == c {
			last := len(h.clientStreams) - 1
			h.clientStreams[i] = h.clientStreams[last]
			h.clientStreams[last] = nil
			h.clientStreams = h.clientStreams[:last]
			break
		}
	}
	h.clientslock.Unlock()
	c.close()
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.clientslock.Lock()
	defer h.clientslock.Unlock()
	return len(h.clientStreams)
}

func (h *Hub) streamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientQueue), done: make(chan struct{})}

	h.clientslock.Lock()
	for _, msg := range [][]byte{h.lastRecord, h.lastActuators} {
		if msg != nil {
			c.send <- msg
		}
	}
	h.clientStreams = append(h.clientStreams, c)
	h.clientslock.Unlock()

	go h.writer(c)
	// Clients never send anything useful; reading only detects the close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.log.Debug("websocket client left", zap.Error(err))
				h.drop(c)
				return
			}
		}
	}()
}

// Handler serves the status page, the event stream and, if given, metrics.
func (h *Hub) Handler(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", h.streamHandler)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, page, html.EscapeString(h.name))
	})
	return mux
}

// Serve runs the status server on addr until ctx is done.
func (h *Hub) Serve(ctx context.Context, addr string, metrics http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h.Handler(metrics), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()
	h.log.Info("starting status server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
