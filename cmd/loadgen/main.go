// loadgen drives synthetic participants against a running collaboration
// server: each one joins a room, heartbeats, toggles typing and proposes
// scene mutations. Useful for eyeballing fan-out latency and backpressure
// drops under load.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kelseyhightower/envconfig"

	"collab-lab/auth"
)

type Config struct {
	ServerURL    string        `envconfig:"LOADGEN_SERVER_URL" default:"ws://localhost:8080/ws"`
	AuthSecret   string        `envconfig:"AUTH_SECRET" required:"true"`
	ProjectID    string        `envconfig:"LOADGEN_PROJECT_ID" default:"project-load"`
	Participants int           `envconfig:"LOADGEN_PARTICIPANTS" default:"5"`
	Duration     time.Duration `envconfig:"LOADGEN_DURATION" default:"30s"`
	ActionPause  time.Duration `envconfig:"LOADGEN_ACTION_PAUSE" default:"500ms"`
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("config: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < cfg.Participants; i++ {
		go runParticipant(cfg, i, done)
	}
	time.Sleep(cfg.Duration)
	close(done)
	// Let leave frames flush before the process exits.
	time.Sleep(time.Second)
}

func runParticipant(cfg Config, index int, done <-chan struct{}) {
	participantID := fmt.Sprintf("loadgen-%02d", index)
	token, err := auth.Sign(auth.Claim{
		ParticipantID: participantID,
		DisplayName:   fmt.Sprintf("Load Generator %02d", index),
		ProjectID:     cfg.ProjectID,
		Member:        true,
	}, []byte(cfg.AuthSecret), time.Hour)
	if err != nil {
		log.Printf("[%s] sign claim: %v", participantID, err)
		return
	}

	conn, _, err := websocket.DefaultDialer.Dial(cfg.ServerURL, nil)
	if err != nil {
		log.Printf("[%s] dial: %v", participantID, err)
		return
	}
	defer conn.Close()

	send := func(frame map[string]any) bool {
		if err := conn.WriteJSON(frame); err != nil {
			log.Printf("[%s] write: %v", participantID, err)
			return false
		}
		return true
	}
	if !send(map[string]any{"type": "join", "token": token, "project_id": cfg.ProjectID}) {
		return
	}

	// Drain server frames so the outbound queue never saturates; count what
	// comes back for the summary line.
	events := make(chan uint64, 1)
	go func() {
		var lastSeq uint64
		defer func() { events <- lastSeq }()
		for {
			var frame map[string]any
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if seq, ok := frame["seq"].(float64); ok {
				lastSeq = uint64(seq)
			}
		}
	}()

	revisions := map[string]int64{}
	ticker := time.NewTicker(cfg.ActionPause)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			send(map[string]any{"type": "leave"})
			_ = conn.Close()
			log.Printf("[%s] done, last seq seen %d", participantID, <-events)
			return
		case <-ticker.C:
			scene := fmt.Sprintf("scene-%d", rand.Intn(3))
			switch rand.Intn(4) {
			case 0:
				send(map[string]any{"type": "heartbeat"})
			case 1:
				send(map[string]any{"type": "typing", "typing": true, "scene_id": scene})
			case 2:
				payload, _ := json.Marshal(map[string]string{"text": "lorem"})
				send(map[string]any{
					"type": "mutate", "scene_id": scene,
					"base_revision": revisions[scene],
					"payload":       json.RawMessage(payload),
				})
				// Optimistic: assume we won; a conflict just means the next
				// proposal loses too until the real revision is re-fetched.
				revisions[scene]++
			case 3:
				send(map[string]any{"type": "cursor", "scene_id": scene, "position": rand.Intn(5000)})
			}
		}
	}
}
