// cmd/cam-gateway/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sua-org/cam-gateway/internal/camera"
	"github.com/sua-org/cam-gateway/internal/config"
	"github.com/sua-org/cam-gateway/internal/gateway"
	"github.com/sua-org/cam-gateway/internal/mqttclient"
	"github.com/sua-org/cam-gateway/internal/push"
	"github.com/sua-org/cam-gateway/internal/storage"
	"github.com/sua-org/cam-gateway/internal/stream"
	"github.com/sua-org/cam-gateway/internal/subscription"
)

const registrySweepInterval = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] erro carregando configuração: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Espelho local sempre; MinIO é opcional, se falhar continua sem storage remoto
	fileMirror := storage.FileMirror{Dir: cfg.SnapshotDir}
	mirrors := storage.Multi{fileMirror}
	if cfg.Minio.Enabled() {
		store, err := storage.NewMinioStore(ctx, cfg.Minio)
		if err != nil {
			log.Printf("[main] aviso: MinIO não inicializado: %v", err)
		} else {
			mirrors = append(mirrors, store)
		}
	}

	var mqttCli *mqttclient.Client
	if cfg.MQTTEnabled {
		mc := cfg.MQTT
		mc.WillTopic = cfg.BaseTopic + "/gateway/status"
		mc.WillPayload = camera.OfflinePayload()
		mqttCli, err = mqttclient.NewClient(mc)
		if err != nil {
			log.Fatalf("erro ao conectar no MQTT: %v", err)
		}
		defer mqttCli.Close()
		log.Printf("[main] MQTT conectado em %s (base=%s)", mc.Broker(), cfg.BaseTopic)
	} else {
		log.Printf("[main] MQTT_HOST não definido, rodando sem MQTT")
	}

	registry := subscription.NewRegistry(cfg.SubscriberTTL)
	hub := push.NewHub()
	targets := []push.Target{hub}
	var (
		broker      push.Broker
		mqttViewers *push.MQTTViewers
	)
	if mqttCli != nil {
		broker = mqttCli
		mqttViewers = push.NewMQTTViewers(mqttCli, cfg.BaseTopic)
		targets = append(targets, mqttViewers)
	}
	board := push.NewStateBoard(broker, cfg.BaseTopic)

	manager := camera.NewManager(camera.Options{
		FetchTimeout: cfg.FetchTimeout,
		TempDir:      cfg.TempDir,
		Mirror:       mirrors,
		Stream: stream.Options{
			FFmpegPath:       cfg.Stream.FFmpegPath,
			FPS:              cfg.Stream.FPS,
			Throttle:         cfg.Stream.Throttle,
			IdleTimeout:      cfg.Stream.IdleTimeout,
			WatchdogInterval: cfg.Stream.IdleTimeout,
			RestartCooldown:  cfg.Stream.RestartCooldown,
			Audience:         registry,
			Pusher:           push.NewRouter(targets...),
			Publisher:        board,
		},
	})
	if skipped := manager.Init(cfg.Cameras); skipped > 0 {
		log.Printf("[main] %d câmera(s) ignoradas por erro de configuração", skipped)
	}
	log.Printf("[main] %d câmera(s) ativas", len(manager.Names()))
	registry.Bind(manager)

	go registry.Run(ctx, registrySweepInterval)

	if mqttCli != nil {
		registry.OnExpire(mqttViewers.Forget)
		if err := mqttViewers.Listen(registry); err != nil {
			log.Printf("[main] erro assinando tópicos de live: %v", err)
		}
		status := camera.NewStatusLoop(manager, mqttCli, cfg.BaseTopic, cfg.StatusInterval, registry.Counts)
		go status.Run(ctx)
	}

	srv := gateway.New(cfg.HTTPAddr, manager, gateway.NewGuard(cfg.Key, cfg.AllowedIPs),
		gateway.WithLive(board, hub, registry), gateway.WithStored(fileMirror))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Printf("[main] servidor HTTP terminou com erro: %v", err)
			cancel()
		}
	}()

	select {
	case <-sig:
		log.Println("[main] sinal recebido, encerrando...")
	case <-ctx.Done():
	}
	cancel()
	manager.Shutdown()
	time.Sleep(1 * time.Second)
}
