package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/atlaschat/chat-app/internal/ai"
	"github.com/atlaschat/chat-app/internal/chat"
	"github.com/atlaschat/chat-app/internal/messaging"
	"github.com/atlaschat/chat-app/internal/metrics"
	"github.com/atlaschat/chat-app/internal/protocol"
	"github.com/atlaschat/chat-app/internal/ratelimit"
	"github.com/atlaschat/chat-app/internal/room"
	"github.com/atlaschat/chat-app/internal/router"
	"github.com/atlaschat/chat-app/internal/session"
	"github.com/atlaschat/chat-app/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("HEARTBEAT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.HeartbeatTimeout = d
		}
	}

	aiTimeout := ai.DefaultExchangeTimeout
	if v := os.Getenv("AI_EXCHANGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			aiTimeout = d
		}
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "ws-1"
	}

	sessionStore, err := session.NewStore(redisAddr, serverName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	limiter := ratelimit.NewLimiter(sessionStore.Client())
	registry := room.NewRegistry()
	history := chat.NewHistory()

	log.Printf("Atlas chat WebSocket server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  heartbeat:       %s + %s", config.HeartbeatInterval, config.HeartbeatTimeout)
	log.Printf("  ai_timeout:      %s", aiTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  server_name:     %s", serverName)

	// Declared early so handler closures can capture them.
	var (
		server *ws.Server
		rtr    *router.Router
	)

	tracker := ai.NewTracker(aiTimeout, func(sessionID, requestID string) {
		rtr.ExpireAIExchange(sessionID, requestID)
	})
	tracker.StartSweeper(time.Second)

	dispatcher := ws.NewMessageDispatcher(nil)

	// leaveRoom removes a session from its room, broadcasts the new roster,
	// and tears down per-room resources when the last local member is gone.
	// Used by the leave_room handler, by join_room when switching rooms, and
	// by disconnect cleanup.
	leaveRoom := func(sessionID, roomID string) {
		registry.Leave(roomID, sessionID)

		if len(registry.Members(roomID)) == 0 {
			_ = natsClient.UnsubscribeFromRoom(roomID)
			history.Remove(roomID)
		} else if err := rtr.BroadcastRoster(roomID); err != nil {
			log.Printf("[leave] roster broadcast room=%s failed: %v", roomID, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := sessionStore.ClearRoom(ctx, sessionID); err != nil {
			log.Printf("[leave] clear room session=%s: %v", sessionID, err)
		}
		metrics.ActiveRooms.Set(float64(registry.RoomCount()))
	}

	// -----------------------------------------------------------------------
	// join_room — enter a room, creating it implicitly on first join
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinRoom, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinRoomMsg)
		if !ok {
			return
		}
		sid := conn.ID

		if joinMsg.Room == "" || joinMsg.Username == "" {
			dispatcher.SendError(conn, protocol.CodeInvalidMessage, "room and username are required")
			return
		}

		// One room at a time: switching rooms implies leaving the old one.
		if old := registry.RoomOf(sid); old != "" && old != joinMsg.Room {
			leaveRoom(sid, old)
		}

		// Subscribe this instance to the room subject before joining, so no
		// broadcast between join and subscribe can be missed.
		if err := natsClient.SubscribeToRoom(joinMsg.Room, func(data []byte) {
			rtr.Deliver(data)
		}); err != nil {
			log.Printf("[join] subscribe room=%s failed: %v", joinMsg.Room, err)
			dispatcher.SendError(conn, protocol.CodeInvalidMessage, "could not join room")
			return
		}

		registry.Join(joinMsg.Room, room.Member{SessionID: sid, Name: joinMsg.Username})
		metrics.ActiveRooms.Set(float64(registry.RoomCount()))

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := sessionStore.SetRoom(ctx, sid, joinMsg.Room, joinMsg.Username); err != nil {
			log.Printf("[join] set room session=%s: %v", sid, err)
		}

		// Replay recent messages to the joiner only, then refresh everyone's
		// roster. Replay precedes the roster broadcast so the joiner sees
		// history before any live traffic it might race with.
		for _, entry := range history.Recent(joinMsg.Room) {
			frame, err := protocol.NewServerMessage(protocol.TypeReceiveMessage, protocol.ReceiveMessageMsg{
				Room:    joinMsg.Room,
				Author:  entry.Author,
				Message: entry.Body,
				Time:    entry.Time,
				IsGif:   entry.IsGif,
			})
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(frame); err != nil {
				log.Printf("[join] history replay to session=%s failed: %v", sid, err)
				break
			}
		}

		if err := rtr.BroadcastRoster(joinMsg.Room); err != nil {
			log.Printf("[join] roster broadcast room=%s failed: %v", joinMsg.Room, err)
		}

		log.Printf("join_room session=%s room=%s user=%s", sid, joinMsg.Room, joinMsg.Username)
	})

	// -----------------------------------------------------------------------
	// leave_room — exit the current room (no-op when not a member)
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLeaveRoom, func(conn *ws.Connection, msg interface{}) {
		leaveMsg, ok := msg.(protocol.LeaveRoomMsg)
		if !ok {
			return
		}
		sid := conn.ID

		if registry.RoomOf(sid) != leaveMsg.Room {
			return // leaving a room one is not in is a no-op
		}
		leaveRoom(sid, leaveMsg.Room)
		log.Printf("leave_room session=%s room=%s", sid, leaveMsg.Room)
	})

	// -----------------------------------------------------------------------
	// get_members — roster query, answered directly to the requester
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeGetMembers, func(conn *ws.Connection, msg interface{}) {
		getMsg, ok := msg.(protocol.GetMembersMsg)
		if !ok {
			return
		}

		frame, err := protocol.NewServerMessage(protocol.TypeMembersList, protocol.MembersListMsg{
			Room:    getMsg.Room,
			Members: room.Names(registry.Members(getMsg.Room)),
		})
		if err != nil {
			log.Printf("[get_members] build frame: %v", err)
			return
		}
		if err := conn.WriteMessage(frame); err != nil {
			log.Printf("[get_members] send to session=%s failed: %v", conn.ID, err)
		}
	})

	// -----------------------------------------------------------------------
	// send_message — validate, rate limit, and route a chat or GIF message
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		sid := conn.ID
		ctx := context.Background()

		if sendMsg.IsGif {
			if err := chat.ValidateGifURL(sendMsg.Message); err != nil {
				dispatcher.SendError(conn, protocol.CodeInvalidMessage, err.Error())
				return
			}
		} else if err := chat.ValidateMessage(sendMsg.Message); err != nil {
			dispatcher.SendError(conn, protocol.CodeInvalidMessage, err.Error())
			return
		}

		if allowed, _ := limiter.Allow(ctx, sid, ratelimit.RuleMessage); !allowed {
			dispatcher.SendError(conn, protocol.CodeRateLimited, "sending messages too fast")
			return
		}

		if err := rtr.RouteMessage(sid, sendMsg); err != nil {
			if err == router.ErrRoomNotJoined {
				dispatcher.SendError(conn, protocol.CodeRoomNotJoined, "not a member of this room")
				return
			}
			log.Printf("[send_message] route session=%s room=%s: %v", sid, sendMsg.Room, err)
		}
	})

	// -----------------------------------------------------------------------
	// typing / stop_typing — relayed to the rest of the room, never echoed
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		sid := conn.ID

		if allowed, _ := limiter.Allow(context.Background(), sid, ratelimit.RuleTyping); !allowed {
			return // a debounced client never hits this; drop silently
		}
		if err := rtr.RouteTyping(sid, typingMsg); err != nil && err != router.ErrRoomNotJoined {
			log.Printf("[typing] route session=%s: %v", sid, err)
		}
	})

	dispatcher.Register(protocol.TypeStopTyping, func(conn *ws.Connection, msg interface{}) {
		stopMsg, ok := msg.(protocol.StopTypingMsg)
		if !ok {
			return
		}
		sid := conn.ID

		if allowed, _ := limiter.Allow(context.Background(), sid, ratelimit.RuleTyping); !allowed {
			return
		}
		if err := rtr.RouteStopTyping(sid, stopMsg); err != nil && err != router.ErrRoomNotJoined {
			log.Printf("[stop_typing] route session=%s: %v", sid, err)
		}
	})

	// -----------------------------------------------------------------------
	// send_ai_message — one pending exchange per session, matched by id
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendAIMessage, func(conn *ws.Connection, msg interface{}) {
		aiMsg, ok := msg.(protocol.SendAIMessageMsg)
		if !ok {
			return
		}
		sid := conn.ID

		if err := chat.ValidateMessage(aiMsg.Message); err != nil {
			dispatcher.SendError(conn, protocol.CodeInvalidMessage, err.Error())
			return
		}
		if aiMsg.RequestID == "" {
			dispatcher.SendError(conn, protocol.CodeInvalidMessage, "request_id is required")
			return
		}

		if allowed, _ := limiter.Allow(context.Background(), sid, ratelimit.RuleAIPrompt); !allowed {
			dispatcher.SendError(conn, protocol.CodeRateLimited, "too many AI prompts")
			return
		}

		if err := rtr.RouteAIPrompt(sid, aiMsg); err != nil {
			if err == ai.ErrChannelBusy {
				dispatcher.SendError(conn, protocol.CodeAIBusy, "a prompt is already being answered")
				return
			}
			log.Printf("[send_ai_message] route session=%s: %v", sid, err)
			dispatcher.SendError(conn, protocol.CodeAIFailed, "could not submit prompt")
		}
	})

	server = ws.NewServer(config, sessionStore, dispatcher.Dispatch)
	server.SetLimiter(limiter)
	dispatcher.SetServer(server)

	rtr = router.New(registry, natsClient, server, tracker, history)

	// AI replies for sessions hosted here arrive on one wildcard subscription.
	if err := natsClient.SubscribeAIReplies(func(data []byte) {
		rtr.DeliverAIReply(data)
	}); err != nil {
		log.Fatalf("failed to subscribe to AI replies: %v", err)
	}

	// Disconnect cleanup: leave the current room (broadcasting the roster to
	// whoever remains) and drop any pending AI exchange.
	server.SetOnDisconnect(func(connID string) {
		if roomID := registry.RoomOf(connID); roomID != "" {
			leaveRoom(connID, roomID)
			log.Printf("[disconnect] session=%s removed from room=%s", connID, roomID)
		}
		tracker.Drop(connID)
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		tracker.Stop()
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := sessionStore.Close(); err != nil {
			log.Printf("session store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
