package channel

import (
	"context"
	"encoding/json"

	"github.com/gigdesk/msgd/internal/bus"
	"github.com/gigdesk/msgd/internal/transport"
	"github.com/gigdesk/msgd/internal/wire"
	"go.uber.org/zap"
)

// Start subscribes to realtime frames and applies them to the state until
// Stop is called.
func (s *State) Start() {
	ch, cancel := s.bus.Subscribe("rt.", 256)
	s.cancel = cancel
	go s.run(ch)
}

// Stop halts event processing. Pending deliveries resolve normally.
func (s *State) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	close(s.quit)
}

func (s *State) run(ch <-chan bus.Event) {
	for {
		select {
		case <-s.quit:
			return
		case evt := <-ch:
			s.handle(evt)
		}
	}
}

func (s *State) handle(evt bus.Event) {
	switch evt.Kind {
	case "rt.connected":
		// Re-establish routing and reload truth for the open conversation
		// after a (re)connect.
		focused := s.Focused()
		if focused == "" {
			return
		}
		if err := s.tr.Publish(transport.EvtJoinConversation, wire.JoinConversation{ContactID: focused}, nil); err != nil {
			s.logger.Debug("join_conversation publish failed", zap.Error(err))
		}
		go func() {
			_ = s.LoadHistory(context.Background(), focused)
		}()
		return
	}

	raw, ok := evt.Payload.(json.RawMessage)
	if !ok {
		return
	}

	switch evt.Kind {
	case "rt." + transport.EvtNewMessage:
		var wm wire.Message
		if err := json.Unmarshal(raw, &wm); err != nil {
			s.logger.Warn("malformed new_message", zap.Error(err))
			return
		}
		s.Receive(&wm)

	case "rt." + transport.EvtMessageRead:
		var p wire.MessageRead
		if err := json.Unmarshal(raw, &p); err != nil {
			s.logger.Warn("malformed message_read", zap.Error(err))
			return
		}
		s.MarkRead(p.MessageID)

	case "rt." + transport.EvtMessageDeleted:
		var p wire.MessageDeleted
		if err := json.Unmarshal(raw, &p); err != nil {
			s.logger.Warn("malformed message_deleted", zap.Error(err))
			return
		}
		s.removeRemote(p.MessageID)
	}
}
