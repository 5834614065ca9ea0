package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/remote-chat/backend/internal/ack"
	"github.com/remote-chat/backend/internal/codec"
	"github.com/remote-chat/backend/internal/model"
	"github.com/remote-chat/backend/internal/transport"
)

// prepare assigns an id and timestamp when the caller left them empty.
func prepare(msg *model.Message) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.TS == 0 {
		msg.TS = time.Now().UnixMilli()
	}
}

// writeFrame encodes msg and hands it to tr. Callers hold sendMu.
func (s *Session) writeFrame(tr *transport.Transport, msg *model.Message) error {
	frameType, data, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	if err := tr.Send(frameType, data); err != nil {
		return err
	}

	s.metrics.RecordFrameOut(string(msg.Type))
	if s.recorder != nil {
		if err := s.recorder.RecordOutbound(data); err != nil {
			s.logger.Debug("failed to record outbound frame", "error", err)
		}
	}
	return nil
}

func (s *Session) connectedTransport() *transport.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.StatusConnected {
		return nil
	}
	return s.transport
}

// Send transmits msg if connected. Otherwise, or when the send buffer is full,
// transient messages are dropped and everything else waits in the outbound
// queue.
func (s *Session) Send(msg *model.Message) (model.SendResult, error) {
	if msg == nil || msg.Type == "" {
		return model.SendDropped, fmt.Errorf("message type is required")
	}
	prepare(msg)

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if tr := s.connectedTransport(); tr != nil {
		// Messages left behind by a full send buffer go out first.
		if s.queue.Len() > 0 {
			s.flushLocked(tr)
		}
		if s.queue.Len() == 0 {
			err := s.writeFrame(tr, msg)
			if err == nil {
				return model.SendTransmitted, nil
			}
			if !errors.Is(err, model.ErrNotConnected) && !errors.Is(err, model.ErrSendBufferFull) {
				return model.SendDropped, fmt.Errorf("failed to send %s: %w", msg.Type, err)
			}
		}
	}

	if !s.queue.Enqueue(msg) {
		return model.SendDropped, nil
	}
	s.metrics.SetQueueDepth(s.queue.Len())
	return model.SendQueued, nil
}

// SendAck transmits msg and returns a future settled by the server's ack or
// error frame, the timeout or a close. A non-positive timeout uses the
// per-type default. Fails with ErrNotConnected while disconnected, or
// ErrUnauthorized after the server rejected the credential.
func (s *Session) SendAck(msg *model.Message, timeout time.Duration) (*ack.Future, error) {
	if msg == nil || msg.Type == "" {
		return nil, fmt.Errorf("message type is required")
	}
	prepare(msg)
	if timeout <= 0 {
		timeout = s.cfg.ackTimeoutFor(msg.Type)
	}

	tr := s.connectedTransport()
	if tr == nil {
		s.mu.Lock()
		rejectedBy := s.rejectedBy
		s.mu.Unlock()
		if rejectedBy != 0 {
			return nil, fmt.Errorf("%w: credential rejected with code %d", model.ErrUnauthorized, rejectedBy)
		}
		return nil, model.ErrNotConnected
	}

	future, err := s.acks.Register(msg, timeout)
	if err != nil {
		return nil, err
	}
	s.metrics.SetPendingAcks(s.acks.Len())

	s.sendMu.Lock()
	err = s.writeFrame(tr, msg)
	s.sendMu.Unlock()
	if err != nil {
		s.acks.Reject(msg.ID, err)
		return nil, fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return future, nil
}

// Request sends msg with an ack and waits for the outcome or ctx.
func (s *Session) Request(ctx context.Context, msg *model.Message, timeout time.Duration) (*model.Message, error) {
	future, err := s.SendAck(msg, timeout)
	if err != nil {
		return nil, err
	}
	return future.Wait(ctx)
}

func (s *Session) request(ctx context.Context, t model.MessageType, payload any) (*model.Message, error) {
	msg, err := model.NewMessage(t, payload)
	if err != nil {
		return nil, err
	}
	return s.Request(ctx, msg, 0)
}

func (s *Session) send(t model.MessageType, payload any) (model.SendResult, error) {
	msg, err := model.NewMessage(t, payload)
	if err != nil {
		return model.SendDropped, err
	}
	return s.Send(msg)
}

// SendMessage posts a chat message and waits for the server's ack.
func (s *Session) SendMessage(ctx context.Context, p model.SendMessagePayload) (*model.Message, error) {
	return s.request(ctx, model.MessageTypeSendMessage, p)
}

// EditMessage edits a chat message and waits for the server's ack.
func (s *Session) EditMessage(ctx context.Context, p model.EditMessagePayload) (*model.Message, error) {
	return s.request(ctx, model.MessageTypeEditMessage, p)
}

// DeleteMessage deletes a chat message and waits for the server's ack.
func (s *Session) DeleteMessage(ctx context.Context, p model.DeleteMessagePayload) (*model.Message, error) {
	return s.request(ctx, model.MessageTypeDeleteMessage, p)
}

// ReactMessage adds a reaction and waits for the server's ack.
func (s *Session) ReactMessage(ctx context.Context, p model.ReactMessagePayload) (*model.Message, error) {
	return s.request(ctx, model.MessageTypeReactMessage, p)
}

// ForwardMessage forwards messages to other chats and waits for the server's ack.
func (s *Session) ForwardMessage(ctx context.Context, p model.ForwardMessagePayload) (*model.Message, error) {
	return s.request(ctx, model.MessageTypeForwardMessage, p)
}

// PinMessage pins a message and waits for the server's ack.
func (s *Session) PinMessage(ctx context.Context, p model.PinMessagePayload) (*model.Message, error) {
	return s.request(ctx, model.MessageTypePinMessage, p)
}

// UnpinMessage unpins a message and waits for the server's ack.
func (s *Session) UnpinMessage(ctx context.Context, p model.PinMessagePayload) (*model.Message, error) {
	return s.request(ctx, model.MessageTypeUnpinMessage, p)
}

// JoinCall joins a call and waits for the server's ack.
func (s *Session) JoinCall(ctx context.Context, p model.CallPayload) (*model.Message, error) {
	return s.request(ctx, model.MessageTypeCallJoin, p)
}

// LeaveCall leaves a call.
func (s *Session) LeaveCall(p model.CallPayload) (model.SendResult, error) {
	return s.send(model.MessageTypeCallLeave, p)
}

// SignalCall relays an opaque signalling payload.
func (s *Session) SignalCall(p model.CallPayload) (model.SendResult, error) {
	return s.send(model.MessageTypeCallSignal, p)
}
