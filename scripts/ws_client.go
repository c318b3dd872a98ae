// Package main submits a scenario to a running API and prints its run
// events from the websocket stream.
//
//	go run ./scripts scenario.yaml
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type runEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: ws_client <scenario.yaml|json>")
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	body, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	resp, err := http.Post(base+"/v1/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		log.Fatalf("submit: %s", resp.Status)
	}
	var run struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		log.Fatal(err)
	}
	log.Printf("Run ID: %s", run.ID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/runs/" + run.ID + "/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	deadline := time.Now().Add(10 * time.Minute)
	for time.Now().Before(deadline) {
		var evt runEvent
		if err := c.ReadJSON(&evt); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			log.Fatalf("read: %v", err)
		}
		b, _ := json.Marshal(evt.Data)
		log.Printf("WS <- %s: %s", evt.Type, b)
	}
}
