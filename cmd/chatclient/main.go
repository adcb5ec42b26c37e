package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	wsproto "ai-companion-demo/backend/pkg/ws"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-retryablehttp"
)

func main() {
	baseURL := flag.String("url", "http://localhost:5000", "Backend base URL")
	token := flag.String("token", os.Getenv("COMPANION_TOKEN"), "Bearer token, if the server requires one")
	generate := flag.String("generate", "", "Generate a character: realistic or fantasy")
	image := flag.String("image", "", "Create an image from this description")
	chat := flag.Bool("chat", false, "Chat with a companion over the socket, one message per line")
	userID := flag.String("user", "local-user", "user_id for chat events")
	companionID := flag.String("companion", "", "companion_id for chat events")
	flag.Parse()

	if *generate == "" && *image == "" && !*chat {
		fmt.Println("Companion client usage:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *generate != "" {
		var resp struct {
			Message     string `json:"message"`
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := post(*baseURL+"/generate-"+*generate+"-character", *token, struct{}{}, &resp); err != nil {
			log.Fatalf("Error generating character: %v", err)
		}
		fmt.Printf("%s\nName: %s\n%s\n", resp.Message, resp.Name, resp.Description)
	}

	if *image != "" {
		var resp struct {
			Message string `json:"message"`
			Base64  string `json:"base64"`
		}
		body := map[string]string{"name": "cli", "description": *image}
		if err := post(*baseURL+"/create-image", *token, body, &resp); err != nil {
			log.Fatalf("Error creating image: %v", err)
		}
		fmt.Printf("%s (%d bytes of data URI)\n", resp.Message, len(resp.Base64))
	}

	if *chat {
		if *companionID == "" {
			log.Fatal("-companion is required for -chat")
		}
		runChat(*baseURL, *token, *userID, *companionID)
	}
}

func post(url, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	client.HTTPClient.Timeout = 2 * time.Minute

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("error response: %s, status: %d", string(bodyBytes), resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runChat(baseURL, token, userID, companionID string) {
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		log.Fatalf("Error connecting to WebSocket: %v", err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg wsproto.Message
			if err := conn.ReadJSON(&msg); err != nil {
				log.Printf("WebSocket read error: %v", err)
				return
			}
			printEvent(msg)
		}
	}()

	send := func(eventType string, content any) error {
		data, err := wsproto.Encode(eventType, content)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	if err := send(wsproto.EventStartChat, map[string]string{"user_id": userID, "companion_id": companionID}); err != nil {
		log.Fatalf("Error starting chat: %v", err)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case line, ok := <-lines:
			if !ok {
				closeConn(conn, done)
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			err := send(wsproto.EventSendMessage, map[string]string{
				"message":      line,
				"user_id":      userID,
				"companion_id": companionID,
			})
			if err != nil {
				log.Printf("Error sending message: %v", err)
				return
			}
		case <-ticker.C:
			if err := send(wsproto.EventPing, nil); err != nil {
				log.Printf("Error writing ping: %v", err)
				return
			}
		case <-interrupt:
			closeConn(conn, done)
			return
		}
	}
}

func printEvent(msg wsproto.Message) {
	switch msg.Type {
	case wsproto.EventSessionKey:
		var c wsproto.SessionKey
		_ = json.Unmarshal(msg.Content, &c)
		fmt.Printf("[session %s]\n", c.SessionKey)
	case wsproto.EventReceiveMessage:
		var c wsproto.ReceiveMessage
		_ = json.Unmarshal(msg.Content, &c)
		fmt.Printf("> %s\n", c.Message)
	case wsproto.EventError:
		var c wsproto.Error
		_ = json.Unmarshal(msg.Content, &c)
		fmt.Printf("[error %s] %s\n", c.Code, c.Message)
	}
}

func closeConn(conn *websocket.Conn, done <-chan struct{}) {
	err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		log.Printf("Error during closing websocket: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}
