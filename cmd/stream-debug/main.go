// cmd/stream-debug/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sua-org/cam-gateway/internal/config"
	"github.com/sua-org/cam-gateway/internal/imaging"
	"github.com/sua-org/cam-gateway/internal/mqttclient"
)

// Assina o último valor dos streams (<base>/+/stream) e salva cada frame
// recebido em disco.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[debug] aviso: não foi possível carregar .env: %v", err)
	}
	cfg := config.FromEnv()
	if !cfg.MQTTEnabled {
		log.Fatalf("[debug] MQTT_HOST não definido")
	}

	subscribeTopic := getenv("STREAM_DEBUG_TOPIC", cfg.BaseTopic+"/+/stream")
	outDir := getenv("STREAM_DEBUG_DIR", "stream-debug")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Fatalf("[debug] erro criando %s: %v", outDir, err)
	}

	mc := cfg.MQTT
	mc.ClientID = getenv("MQTT_CLIENT_ID", "cam-gateway-stream-debug")
	mqttCli, err := mqttclient.NewClient(mc)
	if err != nil {
		log.Fatalf("erro ao conectar no MQTT: %v", err)
	}
	defer mqttCli.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	if err := mqttCli.Subscribe(subscribeTopic, 0, func(topic string, payload []byte) {
		handleFrame(outDir, cfg.BaseTopic, topic, payload)
	}); err != nil {
		log.Fatalf("erro ao assinar tópico %s: %v", subscribeTopic, err)
	}
	log.Printf("[debug] subscribed to topic: %s", subscribeTopic)

	go func() {
		<-sig
		log.Println("[debug] sinal recebido, encerrando subscriber...")
		cancel()
	}()

	<-ctx.Done()
	time.Sleep(500 * time.Millisecond)
}

func handleFrame(outDir, base, topic string, payload []byte) {
	camera := strings.TrimSuffix(strings.TrimPrefix(topic, base+"/"), "/stream")
	if len(payload) == 0 {
		log.Printf("[debug] %s: stream limpo", camera)
		return
	}

	w, h, err := imaging.Dimensions(payload)
	if err != nil {
		log.Printf("[debug] %s: payload de %d bytes não é imagem: %v", camera, len(payload), err)
		return
	}

	filename := filepath.Join(outDir, fmt.Sprintf("%s_%d.jpg", strings.ReplaceAll(camera, "/", "_"), time.Now().UnixNano()))
	if err := os.WriteFile(filename, payload, 0o644); err != nil {
		log.Printf("[debug] erro ao salvar frame em disco: %v", err)
		return
	}
	log.Printf("[debug] %s: frame %dx%d (%d bytes) salvo em %s", camera, w, h, len(payload), filename)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
