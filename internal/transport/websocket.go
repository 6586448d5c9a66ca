// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"vocalscope/internal/log"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	broadcastQueue = 16
	writeTimeout   = time.Second
)

// WebSocketTransport serves /ws and broadcasts each message to every client
// as a binary msgpack frame. Messages are dropped when the queue is full.
type WebSocketTransport struct {
	addr     string
	upgrader websocket.Upgrader
	server   *http.Server

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}
	onClients func(n int)

	broadcast chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWebSocketTransport prepares a transport for addr. onClients, if not
// nil, is called with the client count whenever it changes.
func NewWebSocketTransport(addr string, onClients func(n int)) *WebSocketTransport {
	wst := &WebSocketTransport{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]struct{}),
		onClients: onClients,
		broadcast: make(chan []byte, broadcastQueue),
		done:      make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wst.handleWebSocket)
	wst.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	wst.wg.Add(1)
	go wst.handleBroadcasts()
	return wst
}

// Handler returns the HTTP handler serving /ws.
func (wst *WebSocketTransport) Handler() http.Handler { return wst.server.Handler }

// ListenAndServe serves until ctx is cancelled or the transport is closed.
func (wst *WebSocketTransport) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", wst.addr)
	if err != nil {
		return err
	}
	log.Infof("WebSocketTransport: serving ws://%s/ws", ln.Addr())

	stop := context.AfterFunc(ctx, func() { wst.Close() })
	defer stop()
	if err := wst.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocketTransport: upgrade: %v", err)
		return
	}
	select {
	case <-wst.done:
		conn.Close()
		return
	default:
	}
	wst.addClient(conn)

	// Clients only listen; reading detects the disconnect.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.removeClient(conn)
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) addClient(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	wst.clients[conn] = struct{}{}
	n := len(wst.clients)
	wst.clientsMu.Unlock()
	log.Infof("WebSocketTransport: client %s connected, total %d", conn.RemoteAddr(), n)
	wst.notify(n)
}

func (wst *WebSocketTransport) removeClient(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	if _, ok := wst.clients[conn]; !ok {
		wst.clientsMu.Unlock()
		return
	}
	delete(wst.clients, conn)
	n := len(wst.clients)
	wst.clientsMu.Unlock()
	conn.Close()
	log.Infof("WebSocketTransport: client %s disconnected, total %d", conn.RemoteAddr(), n)
	wst.notify(n)
}

func (wst *WebSocketTransport) notify(n int) {
	if wst.onClients != nil {
		wst.onClients(n)
	}
}

func (wst *WebSocketTransport) handleBroadcasts() {
	defer wst.wg.Done()
	var failed []*websocket.Conn
	for {
		select {
		case <-wst.done:
			return
		case data := <-wst.broadcast:
			failed = failed[:0]
			wst.clientsMu.Lock()
			for conn := range wst.clients {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
					log.Debugf("WebSocketTransport: write to %s: %v", conn.RemoteAddr(), err)
					failed = append(failed, conn)
				}
			}
			wst.clientsMu.Unlock()
			for _, conn := range failed {
				wst.removeClient(conn)
			}
		}
	}
}

// Send encodes data with msgpack and queues it for every client.
func (wst *WebSocketTransport) Send(data any) error {
	b, err := msgpack.Marshal(data)
	if err != nil {
		return err
	}
	select {
	case wst.broadcast <- b:
	default:
	}
	return nil
}

// Close disconnects every client and stops the server.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		log.Infof("WebSocketTransport: closing")
		close(wst.done)
		wst.wg.Wait()

		wst.clientsMu.Lock()
		conns := make([]*websocket.Conn, 0, len(wst.clients))
		for conn := range wst.clients {
			conns = append(conns, conn)
		}
		wst.clientsMu.Unlock()
		for _, conn := range conns {
			wst.removeClient(conn)
		}
		err = wst.server.Close()
	})
	return err
}

var _ Transport = (*WebSocketTransport)(nil)
