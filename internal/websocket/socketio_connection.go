package websocket

import (
	"context"
	"errors"

	socket "github.com/zishang520/socket.io/servers/socket/v3"

	"github.com/staryskies/explo/internal/metrics"
	"github.com/staryskies/explo/internal/session/runtime"
	"github.com/staryskies/explo/internal/websocket/handlers"
	"github.com/staryskies/explo/pkg/logger"
	"github.com/staryskies/explo/wire"
)

func (s *SocketIOServer) handleConnection(client *socket.Socket) {
	socketID := string(client.Id())

	logger.Infof("socket.io connection attempt (socket %s)", socketID)

	authMap := client.Handshake().Auth
	if len(authMap) == 0 {
		logger.Warnf("socket.io missing auth data (socket %s)", socketID)
		client.Emit("error", map[string]string{"message": "missing authentication data"})
		client.Disconnect(true)
		return
	}

	var authPayload handlers.SocketAuthPayload
	if err := decodeAny(authMap, &authPayload); err != nil {
		logger.Warnf("socket.io invalid auth data (socket %s): %v", socketID, err)
		client.Emit("error", map[string]string{"message": "invalid authentication data"})
		client.Disconnect(true)
		return
	}

	handshake, err := handlers.ValidateSocketAuthPayload(authPayload)
	if err != nil {
		logger.Warnf("socket.io handshake rejected (socket %s): %v", socketID, err)
		client.Emit("error", map[string]string{"message": err.Error()})
		client.Disconnect(true)
		return
	}

	claims, err := s.jwtManager.VerifyToken(handshake.Token)
	if err != nil {
		logger.Warnf("socket.io invalid token (socket %s): %v", socketID, err)
		client.Emit("error", map[string]string{"message": "invalid authentication token"})
		client.Disconnect(true)
		return
	}

	s.socketData.Store(socketID, &SocketData{
		UserID:      claims.Subject,
		DisplayName: claims.DisplayName,
		Socket:      client,
	})
	metrics.SocketConnects.Inc()
	logger.Infof("socket.io client ready (user %s, socket %s)", claims.Subject, socketID)

	s.registerClientHandlers(client, socketID)
}

// getFirstAnyWithAck splits event args into the payload and a trailing ack
// callback if present.
func getFirstAnyWithAck(data []any) (any, func(...any)) {
	var ack func(...any)
	if len(data) == 0 {
		return nil, nil
	}
	if cb, ok := data[len(data)-1].(func(...any)); ok {
		ack = cb
		data = data[:len(data)-1]
	} else if cb, ok := data[len(data)-1].(socket.Ack); ok {
		ack = func(args ...any) {
			cb(args, nil)
		}
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return nil, ack
	}
	return data[0], ack
}

func ackResult(ack func(...any), payload any) {
	if ack != nil {
		ack(payload)
	}
}

func squadErrAck(err error) wire.SquadAck {
	switch {
	case errors.Is(err, runtime.ErrNotFound):
		return wire.SquadAck{Result: "error", Code: wire.CodeNotFound}
	case errors.Is(err, runtime.ErrFull):
		return wire.SquadAck{Result: "error", Code: wire.CodeFull}
	default:
		return wire.SquadAck{Result: "error", Code: wire.CodeServerError}
	}
}

func (s *SocketIOServer) registerClientHandlers(client *socket.Socket, socketID string) {
	client.On(wire.EventCreateSquad, func(args ...any) {
		_, ack := getFirstAnyWithAck(args)
		sd := s.getSocketData(socketID)

		squad, err := s.squads.Create(context.Background(), sd.UserID, sd.DisplayName, socketID)
		if err != nil {
			logger.Warnf("create-squad failed (user %s): %v", sd.UserID, err)
			ackResult(ack, squadErrAck(err))
			return
		}
		ackResult(ack, wire.SquadAck{Result: "success", Squad: &squad})
	})

	client.On(wire.EventJoinSquad, func(args ...any) {
		payload, ack := getFirstAnyWithAck(args)
		sd := s.getSocketData(socketID)

		var req struct {
			JoinCode string `json:"joinCode"`
		}
		if err := decodeAny(payload, &req); err != nil || req.JoinCode == "" {
			ackResult(ack, wire.SquadAck{Result: "error", Code: wire.CodeNotFound})
			return
		}

		squad, err := s.squads.Join(context.Background(), sd.UserID, sd.DisplayName, req.JoinCode, socketID)
		if err != nil {
			logger.Warnf("join-squad failed (user %s): %v", sd.UserID, err)
			ackResult(ack, squadErrAck(err))
			return
		}
		ackResult(ack, wire.SquadAck{Result: "success", Squad: &squad})
	})

	client.On(wire.EventLeaveSquad, func(args ...any) {
		_, ack := getFirstAnyWithAck(args)
		sd := s.getSocketData(socketID)

		if err := s.squads.Leave(context.Background(), sd.UserID, socketID); err != nil {
			logger.Warnf("leave-squad failed (user %s): %v", sd.UserID, err)
			ackResult(ack, wire.Err(wire.CodeServerError, "leave failed"))
			return
		}
		ackResult(ack, wire.OK())
	})

	client.On(wire.EventMessage, func(args ...any) {
		payload, ack := getFirstAnyWithAck(args)
		sd := s.getSocketData(socketID)

		var out wire.OutboundMessage
		if err := decodeAny(payload, &out); err != nil {
			ackResult(ack, wire.Err(wire.CodeServerError, "invalid message payload"))
			return
		}

		msg, err := s.squads.IngestMessage(context.Background(), sd.UserID, sd.DisplayName, out, socketID)
		if err != nil {
			logger.Warnf("message ingest failed (user %s): %v", sd.UserID, err)
			if errors.Is(err, runtime.ErrNotMember) {
				ackResult(ack, wire.Err(wire.CodeNotFound, "not a squad member"))
			} else {
				ackResult(ack, wire.Err(wire.CodeServerError, err.Error()))
			}
			return
		}
		// The ack echoes the stored message so realtime senders learn the
		// server seq without a poll.
		ackResult(ack, map[string]any{"result": "success", "message": msg})
	})

	client.On(wire.EventGameState, func(args ...any) {
		payload, ack := getFirstAnyWithAck(args)
		sd := s.getSocketData(socketID)

		var out wire.OutboundGameState
		if err := decodeAny(payload, &out); err != nil {
			ackResult(ack, wire.Err(wire.CodeServerError, "invalid game-state payload"))
			return
		}

		err := s.squads.GameState(context.Background(), sd.UserID, out.SquadID, out.Update, socketID)
		if err != nil {
			logger.Warnf("game-state failed (user %s): %v", sd.UserID, err)
			if errors.Is(err, runtime.ErrNotFound) || errors.Is(err, runtime.ErrNotMember) {
				ackResult(ack, wire.Err(wire.CodeNotFound, "squad not found"))
			} else {
				ackResult(ack, wire.Err(wire.CodeServerError, err.Error()))
			}
			return
		}
		ackResult(ack, wire.OK())
	})

	client.On("disconnect", func(args ...any) {
		reason := ""
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}
		logger.Infof("socket.io client disconnected (socket %s, reason %q)", socketID, reason)
		metrics.SocketDisconnects.Inc()
		s.socketData.Delete(socketID)
	})
}
