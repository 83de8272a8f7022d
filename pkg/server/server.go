// Package server feeds operator clicks from websocket clients into a
// session. Every connection shares one hub, and the hub applies requests
// in arrival order.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

type Server struct {
	addr     string
	upgrader websocket.Upgrader
	hub      *Hub
}

func NewServer(addr string, upgrader websocket.Upgrader, hub *Hub) *Server {
	return &Server{
		addr:     addr,
		upgrader: upgrader,
		hub:      hub,
	}
}

// serveWs handles websocket requests from the peer.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	peer := log.WithField("peer", conn.RemoteAddr().String())
	peer.Info("client connected")
	for {
		var msg Msg
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				peer.WithError(err).Warn("read failed")
			}
			peer.Info("client disconnected")
			return
		}
		reply, err := s.hub.Do(r.Context(), msg)
		if err != nil {
			return
		}
		if err := conn.WriteJSON(&reply); err != nil {
			peer.WithError(err).Warn("write failed")
			return
		}
	}
}

// Handler routes /ws to the click feed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWs)
	return mux
}

// Serve runs the hub and listens until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.hub.Run(ctx)

	srv := &http.Server{Addr: s.addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.WithField("addr", s.addr).Info("listening for clicks on /ws")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
