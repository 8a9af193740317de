package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/user/guesswho/internal/config"
	"github.com/user/guesswho/internal/identity"
	"github.com/user/guesswho/internal/network/server/handlers"
	"github.com/user/guesswho/internal/protocol"
	"github.com/user/guesswho/internal/readiness"
	"github.com/user/guesswho/internal/room"
	"github.com/user/guesswho/internal/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // restrict origins in production deployments
	},
}

// Server coordinates the lobby: room store, lifecycle manager,
// session registry and the HTTP/WebSocket edge.
type Server struct {
	config    *config.Config
	redis     *redis.Client
	store     room.Store
	manager   *room.Manager
	readiness readiness.Provider
	identity  identity.Resolver
	registry  *Registry

	limiter   *RateLimiter
	semaphore chan struct{} // bounds concurrent websocket connections

	httpSrv *http.Server
}

// NewServer wires a server from config. Fails fast if redis is
// unreachable.
func NewServer(cfg *config.Config) (*Server, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	store := storage.NewRedisStore(rdb, cfg.Room.IdleTimeoutDuration())
	rp := readiness.NewRedisProvider(rdb)

	s := &Server{
		config:    cfg,
		redis:     rdb,
		store:     store,
		manager:   room.NewManager(store, rp, cfg.Room.MinPlayers, cfg.Room.MaxPlayers),
		readiness: rp,
		identity:  identity.NewTokenResolver(cfg.Auth.TokenSecret),
		registry:  NewRegistry(),
		limiter:   NewRateLimiter(10, 120, 5*time.Minute),
		semaphore: make(chan struct{}, cfg.Server.MaxConnections),
	}

	// Request-layer mutations (join/leave over HTTP) reach attached
	// connections through this hook.
	s.manager.SetNotify(func(code string) {
		s.broadcastRoomState(context.Background(), code)
	})

	return s, nil
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	r := mux.NewRouter()

	h := handlers.New(s.manager, s.identity, s.store, s.readiness)
	h.Register(r)
	r.HandleFunc("/ws/rooms/{code}", s.handleWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("lobby server listening on %s", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and closes the live ones.
func (s *Server) Shutdown() {
	log.Println("shutting down...")

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(ctx)
	}

	for _, c := range s.registry.All() {
		c.conn.Close()
	}
	_ = s.redis.Close()
}

// handleWS validates the handshake and hands the connection to its
// pumps. An anonymous caller, an unknown room or a non-member is
// rejected before the upgrade.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.limiter.Allow(ip) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case s.semaphore <- struct{}{}:
	default:
		http.Error(w, "server is full", http.StatusServiceUnavailable)
		return
	}
	acquired := true
	defer func() {
		if acquired {
			s.releaseConn()
		}
	}()

	ctx := r.Context()
	code := strings.ToUpper(mux.Vars(r)["code"])

	player, err := s.identity.Resolve(ctx, handlers.TokenFromRequest(r))
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	if _, err := s.store.GetRoom(ctx, code); err != nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	members, err := s.store.ListMembers(ctx, code)
	if err != nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	isMember := false
	for _, m := range members {
		if m.PlayerID == player.ID {
			isMember = true
			break
		}
	}
	if !isMember {
		http.Error(w, "not a member of this room", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed for %s: %v", ip, err)
		return
	}

	client := newClient(s, conn, player.ID, code, ip)

	if err := s.manager.SetConnection(ctx, code, player.ID, room.ConnConnected); err != nil {
		log.Printf("mark %s connected in %s: %v", player.ID, code, err)
	}
	s.registry.Attach(client, code)

	// The client owns the semaphore slot from here; handleDisconnect
	// releases it.
	acquired = false

	go client.WritePump()
	go client.ReadPump()

	log.Printf("player %s connected to room %s (conn %s)", player.ID, code, client.id)
	s.broadcastRoomState(context.Background(), code)
}

// handleMessage dispatches one inbound client command.
func (s *Server) handleMessage(c *Client, msg *protocol.Inbound) {
	ctx := context.Background()

	switch msg.Type {
	case protocol.MsgStartGame:
		if err := s.manager.StartGame(ctx, c.playerID, c.roomCode); err != nil {
			// Targeted reply: one player's invalid command must not
			// disturb the rest of the room.
			c.Send(protocol.NewError(err.Error()))
			return
		}
		s.broadcast(c.roomCode, protocol.NewMatchStarting("Game is starting!"))

	default:
		log.Printf("unknown message type %q from %s", msg.Type, c.playerID)
		c.Send(protocol.NewError("unknown message type"))
	}
}

// broadcast fans one event out to every connection in the room group.
func (s *Server) broadcast(code string, msg any) {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("encode error: %v", err)
		return
	}
	s.registry.Broadcast(code, data)
}

// broadcastRoomState recomputes the room snapshot and sends it to the
// whole group. State is committed before this runs; a room that is
// already gone (leave raced the disconnect) just means nothing to say.
func (s *Server) broadcastRoomState(ctx context.Context, code string) {
	snap, err := room.BuildSnapshot(ctx, s.store, s.readiness, code)
	if err != nil {
		return
	}
	s.broadcast(code, toRoomState(snap))
}

// toRoomState converts a domain snapshot to its wire shape.
func toRoomState(snap *room.Snapshot) *protocol.RoomState {
	players := make([]protocol.PlayerState, 0, len(snap.Players))
	for _, p := range snap.Players {
		players = append(players, protocol.PlayerState{
			PlayerID:        p.PlayerID,
			DisplayName:     p.DisplayName,
			IsHost:          p.IsHost,
			Readiness:       string(p.Readiness),
			ConnectionState: string(p.ConnectionState),
		})
	}
	return &protocol.RoomState{
		Type:        protocol.MsgRoomState,
		Players:     players,
		AllSynced:   snap.AllSynced,
		PlayerCount: len(players),
		RoomStatus:  string(snap.Room.Status),
	}
}

func (s *Server) releaseConn() {
	select {
	case <-s.semaphore:
	default:
	}
}

// clientIP extracts the peer address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
