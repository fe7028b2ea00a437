package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	socket "github.com/zishang520/socket.io/servers/socket/v3"
	sockettypes "github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/staryskies/explo/internal/crypto"
	"github.com/staryskies/explo/internal/session/runtime"
	"github.com/staryskies/explo/pkg/logger"
)

// SocketIOServer is the realtime transport endpoint for squad coordination.
type SocketIOServer struct {
	jwtManager *crypto.JWTManager
	server     *socket.Server
	socketData sync.Map // socket ID -> *SocketData
	squads     *runtime.Manager
}

// NewSocketIOServer creates the socket.io server. The squad runtime is
// attached afterwards via SetRuntime because the runtime needs this server
// as its emitter.
func NewSocketIOServer(jwtManager *crypto.JWTManager) *SocketIOServer {
	opts := socket.DefaultServerOptions()
	opts.SetCors(&sockettypes.Cors{
		Origin:      "*",
		Credentials: false,
	})

	// Ping cadence bounds how quickly abruptly-closed clients are detected
	// and their presence dropped.
	const pingInterval = 5 * time.Second
	const pingTimeout = 15 * time.Second
	opts.SetPingInterval(pingInterval)
	opts.SetPingTimeout(pingTimeout)

	opts.SetPath("/v1/updates")

	s := &SocketIOServer{
		jwtManager: jwtManager,
		server:     socket.NewServer(nil, opts),
	}

	s.server.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		s.handleConnection(client)
	})

	return s
}

// SetRuntime attaches the squad runtime manager.
func (s *SocketIOServer) SetRuntime(squads *runtime.Manager) {
	s.squads = squads
}

// SocketData stores connection metadata for each socket.
type SocketData struct {
	UserID      string
	DisplayName string
	Socket      *socket.Socket
}

func decodeAny(input any, out any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// EmitToMembers emits an event to every socket owned by one of the given
// accounts, skipping the originating socket.
func (s *SocketIOServer) EmitToMembers(accountIDs []string, event string, payload any, skipSocketID string) {
	members := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		members[id] = struct{}{}
	}
	s.socketData.Range(func(key, value any) bool {
		sd, ok := value.(*SocketData)
		if !ok || sd.Socket == nil {
			return true
		}
		if skipSocketID != "" && key == skipSocketID {
			return true
		}
		if _, ok := members[sd.UserID]; !ok {
			return true
		}
		logger.Tracef("emitting %s to socket %v (user %s)", event, key, sd.UserID)
		sd.Socket.Emit(event, payload)
		return true
	})
}

// EmitToAccount emits an event to every socket owned by one account.
func (s *SocketIOServer) EmitToAccount(accountID, event string, payload any) {
	s.EmitToMembers([]string{accountID}, event, payload, "")
}

// EmitGlobal emits an event to every connected socket except the
// originating one.
func (s *SocketIOServer) EmitGlobal(event string, payload any, skipSocketID string) {
	s.socketData.Range(func(key, value any) bool {
		sd, ok := value.(*SocketData)
		if !ok || sd.Socket == nil {
			return true
		}
		if skipSocketID != "" && key == skipSocketID {
			return true
		}
		sd.Socket.Emit(event, payload)
		return true
	})
}

func (s *SocketIOServer) getSocketData(socketID string) *SocketData {
	if data, ok := s.socketData.Load(socketID); ok {
		if sd, ok := data.(*SocketData); ok {
			return sd
		}
	}
	return &SocketData{}
}

// HandleSocketIO creates a gin handler serving the socket.io endpoint.
func (s *SocketIOServer) HandleSocketIO() gin.HandlerFunc {
	httpHandler := s.server.ServeHandler(nil)

	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.Status(http.StatusOK)
			return
		}

		logger.Tracef("socket.io request: %s %s", c.Request.Method, c.Request.URL.Path)
		httpHandler.ServeHTTP(c.Writer, c.Request)
	}
}

// Close shuts down the socket.io server.
func (s *SocketIOServer) Close() error {
	s.server.Close(nil)
	return nil
}
