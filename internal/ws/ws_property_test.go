package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/remote-chat/backend/internal/events"
	"github.com/remote-chat/backend/internal/model"
)

// Every attached client receives every broadcast, byte for byte.
func TestHubBroadcastProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("hub broadcast delivers messages to all registered clients", prop.ForAll(
		func(numClients int, data string) bool {
			hub := NewHub("test-session", nil)
			defer hub.Close()

			var wg sync.WaitGroup
			received := make([]string, numClients)

			for i := 0; i < numClients; i++ {
				client := NewClient(hub, nil, "test-session")
				hub.Register(client)

				idx := i
				wg.Add(1)
				go func() {
					defer wg.Done()
					select {
					case msg := <-client.SendChan():
						received[idx] = string(msg)
					case <-time.After(100 * time.Millisecond):
					}
				}()
			}

			hub.Broadcast([]byte(data))
			wg.Wait()

			for i := 0; i < numClients; i++ {
				if received[i] != data {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.AnyString(),
	))

	properties.Property("hub persists after its clients detach", prop.ForAll(
		func(sessionID string) bool {
			if sessionID == "" {
				sessionID = "test-session"
			}

			manager := NewHubManager(nil)
			defer manager.Close()

			hub := manager.GetOrCreate(sessionID)
			client := NewClient(hub, nil, sessionID)
			hub.Register(client)
			if hub.ClientCount() != 1 {
				return false
			}

			hub.Unregister(client)

			existing := manager.Get(sessionID)
			return existing == hub && existing.ClientCount() == 0 && client.IsClosed()
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// Events keep their kind and payload across the bridge encoding.
func TestEventMessageProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("typing events survive the bridge encoding", prop.ForAll(
		func(chatID string, typists []string) bool {
			msg, err := NewEventMessage(events.TypingChanged{ChatID: chatID, Typists: typists})
			if err != nil {
				return false
			}

			data, err := json.Marshal(msg)
			if err != nil {
				return false
			}
			var parsed Message
			if err := json.Unmarshal(data, &parsed); err != nil {
				return false
			}
			if parsed.Type != MessageTypeEvent || parsed.Event != events.KindTypingChanged {
				return false
			}

			var ev events.TypingChanged
			if err := json.Unmarshal(parsed.Data, &ev); err != nil {
				return false
			}
			if ev.ChatID != chatID || len(ev.Typists) != len(typists) {
				return false
			}
			for i := range typists {
				if ev.Typists[i] != typists[i] {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("received messages keep their wire fields", prop.ForAll(
		func(id, text string) bool {
			wire, err := model.NewMessage(model.MessageTypeNewMessage, map[string]string{"id": id, "text": text})
			if err != nil {
				return false
			}
			msg, err := NewEventMessage(events.MessageReceived{Name: events.TopicName(wire.Type), Message: wire})
			if err != nil {
				return false
			}

			var ev struct {
				Name    string        `json:"name"`
				Message model.Message `json:"message"`
			}
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				return false
			}
			return ev.Name == "ws:new_message" &&
				ev.Message.Type == model.MessageTypeNewMessage &&
				ev.Message.ID == id &&
				ev.Message.String("text") == text
		},
		gen.Identifier(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestClientSendAfterCloseIsDropped(t *testing.T) {
	hub := NewHub("s", nil)
	client := NewClient(hub, nil, "s")
	hub.Register(client)

	hub.Close()
	if !client.IsClosed() {
		t.Fatal("hub close must close its clients")
	}

	client.Send([]byte("late"))
	if _, ok := <-client.SendChan(); ok {
		t.Error("closed client must not accept data")
	}
}

func TestSlowClientIsClosed(t *testing.T) {
	hub := NewHub("s", nil)
	client := NewClient(hub, nil, "s")
	hub.Register(client)

	for i := 0; i < 257; i++ {
		hub.Broadcast([]byte("x"))
	}
	if !client.IsClosed() {
		t.Error("a client that stops draining must be closed")
	}
}
