// Command wsclient streams WAV clips to a running transcription server and
// prints every reply.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"log"
	"math"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satriahrh/arunika/transcriber/internal/audio"
)

type envelope struct {
	Audio     string `json:"audio"`
	MimeType  string `json:"mimeType"`
	Timestamp string `json:"timestamp"`
}

func main() {
	host := flag.String("addr", "localhost:8080", "server host:port")
	file := flag.String("file", "", "WAV file to send; a generated tone is sent when empty")
	count := flag.Int("count", 1, "number of clips to send")
	interval := flag.Duration("interval", 2*time.Second, "delay between clips")
	raw := flag.Bool("raw", false, "send bare base64 instead of a JSON envelope")
	flag.Parse()

	clip, err := loadClip(*file)
	if err != nil {
		log.Fatal("Failed to load audio:", err)
	}
	log.Printf("📁 Loaded clip (%d bytes)", len(clip))

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	u := url.URL{Scheme: "ws", Host: *host, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Start a goroutine to read messages from the server
	go handleIncomingMessage(c, done)

	for i := 0; i < *count; i++ {
		if i > 0 {
			time.Sleep(*interval)
		}
		log.Printf("📤 Sending clip %d/%d at %s", i+1, *count, time.Now().Format("15:04:05.000"))
		if err := sendClip(c, clip, *raw); err != nil {
			log.Printf("Error sending clip: %v", err)
			return
		}
	}

	select {
	case <-done:
		return
	case <-interrupt:
		log.Println("interrupt")
		// Cleanly close the connection by sending a close message and then
		// waiting (with timeout) for the server to close the connection.
		err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Println("write close:", err)
			return
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

func loadClip(path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}

	// Two seconds of a 440 Hz tone at 16 kHz mono
	const sampleRate = 16000
	samples := make([]int16, 2*sampleRate)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/sampleRate))
	}
	return audio.EncodeSamples(samples, sampleRate, 1)
}

func sendClip(c *websocket.Conn, clip []byte, raw bool) error {
	encoded := base64.StdEncoding.EncodeToString(clip)
	if raw {
		return c.WriteMessage(websocket.TextMessage, []byte(encoded))
	}

	data, err := json.Marshal(envelope{
		Audio:     encoded,
		MimeType:  "audio/wav",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

func handleIncomingMessage(c *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			log.Println("read:", err)
			return
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Println("unmarshal error:", err)
			continue
		}

		switch {
		case msg["error"] != nil:
			log.Printf("❌ Error: %v (%v)", msg["error"], msg["technical"])
		case msg["message"] != nil:
			log.Printf("🔇 %v", msg["message"])
		case msg["transcript"] != nil:
			log.Printf("✅ Transcript: %q (%vms)", msg["transcript"], msg["processingTime"])
		default:
			log.Printf("Received message: %s", string(message))
		}
	}
}
