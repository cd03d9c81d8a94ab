// tester dials a running relay, joins a chat, sends a few messages and
// prints every frame it receives.
package main

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "relay address")
	token := flag.String("token", "", "session token")
	chatID := flag.String("chat", "", "chat id")
	count := flag.Int("n", 3, "messages to send")
	wait := flag.Duration("wait", 2*time.Second, "how long to keep reading after the last send")
	flag.Parse()

	if *token == "" || *chatID == "" {
		log.Fatal("-token and -chat are required")
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+*token)

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		if resp != nil {
			log.Fatalf("Handshake failed with status %d: %v", resp.StatusCode, err)
		}
		log.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fmt.Printf("<- %s\n", raw)
		}
	}()

	chat := domain.ChatID(*chatID)
	send(conn, event.ChatJoined, event.ChatCommand{ChatID: chat})
	for i := 1; i <= *count; i++ {
		send(conn, event.StartTyping, event.ChatCommand{ChatID: chat})
		send(conn, event.NewMessage, event.SendMessageCommand{ChatID: chat, Message: fmt.Sprintf("message %d", i)})
		send(conn, event.StopTyping, event.ChatCommand{ChatID: chat})
	}

	time.Sleep(*wait)
	send(conn, event.ChatLeft, event.ChatCommand{ChatID: chat})
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func send(conn *websocket.Conn, kind event.Kind, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("Encode failed: %v", err)
	}
	frame, err := json.Marshal(event.Frame{Type: kind, RequestID: uuid.NewString(), Payload: body})
	if err != nil {
		log.Fatalf("Encode failed: %v", err)
	}
	fmt.Printf("-> %s\n", frame)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Fatalf("Write failed: %v", err)
	}
}
