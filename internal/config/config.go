// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sua-org/cam-gateway/internal/core"
	"github.com/sua-org/cam-gateway/internal/mqttclient"
	"github.com/sua-org/cam-gateway/internal/storage"
)

type StreamConfig struct {
	FFmpegPath      string
	FPS             int
	Throttle        time.Duration
	IdleTimeout     time.Duration
	RestartCooldown time.Duration
}

type Config struct {
	HTTPAddr    string
	Key         string
	AllowedIPs  []string
	CamerasFile string
	TempDir     string
	SnapshotDir string

	FetchTimeout   time.Duration
	StatusInterval time.Duration
	SubscriberTTL  time.Duration

	Stream StreamConfig

	// MQTT desligado quando MQTT_HOST não está definido.
	MQTTEnabled bool
	MQTT        mqttclient.Config
	BaseTopic   string

	Minio storage.MinioConfig

	Cameras []core.CameraConfig
}

type camerasFile struct {
	Cameras []core.CameraConfig `yaml:"cameras"`
}

// Load lê .env (opcional), as variáveis de ambiente e o arquivo de câmeras.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("[config] aviso: não foi possível carregar .env: %v", err)
	} else {
		log.Printf("[config] .env carregado com sucesso")
	}

	cfg := FromEnv()
	cams, err := LoadCameras(cfg.CamerasFile)
	if err != nil {
		return nil, err
	}
	cfg.Cameras = cams
	return cfg, nil
}

// FromEnv monta a configuração só a partir do ambiente.
func FromEnv() *Config {
	mqttHost := os.Getenv("MQTT_HOST")
	ffmpeg := getenv("FFMPEG_PATH", "ffmpeg")

	return &Config{
		HTTPAddr:    getenv("GATEWAY_HTTP_ADDR", ":8200"),
		Key:         os.Getenv("GATEWAY_KEY"),
		AllowedIPs:  splitCSV(os.Getenv("GATEWAY_ALLOWED_IPS")),
		CamerasFile: getenv("GATEWAY_CAMERAS_FILE", "cameras.yaml"),
		TempDir:     getenv("GATEWAY_TEMP_DIR", os.TempDir()),
		SnapshotDir: getenv("GATEWAY_SNAPSHOT_DIR", "snapshots"),

		FetchTimeout:   envDurationMillis("GATEWAY_FETCH_TIMEOUT_MS", 10*time.Second),
		StatusInterval: envDurationSeconds("GATEWAY_STATUS_INTERVAL_SECONDS", 30*time.Second),
		SubscriberTTL:  envDurationSeconds("GATEWAY_SUBSCRIBER_TTL_SECONDS", 60*time.Second),

		Stream: StreamConfig{
			FFmpegPath:      ffmpeg,
			FPS:             envInt("STREAM_FPS", 2),
			Throttle:        envDurationMillis("STREAM_THROTTLE_MS", 300*time.Millisecond),
			IdleTimeout:     envDurationMillis("STREAM_IDLE_TIMEOUT_MS", 10*time.Second),
			RestartCooldown: envDurationMillis("STREAM_RESTART_COOLDOWN_MS", 10*time.Second),
		},

		MQTTEnabled: mqttHost != "",
		MQTT: mqttclient.Config{
			Host:     mqttHost,
			Port:     envInt("MQTT_PORT", 1883),
			Username: os.Getenv("MQTT_USERNAME"),
			Password: os.Getenv("MQTT_PASSWORD"),
			ClientID: getenv("MQTT_CLIENT_ID", "cam-gateway"),
		},
		BaseTopic: strings.TrimSuffix(getenv("MQTT_BASE_TOPIC", "cam-gateway"), "/"),

		Minio: storage.MinioConfig{
			Endpoint:      getenv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:     os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey:     os.Getenv("MINIO_SECRET_KEY"),
			Bucket:        getenv("MINIO_BUCKET", "cam-gateway-snapshots"),
			UseSSL:        getenv("MINIO_USE_SSL", "false") == "true",
			PublicBaseURL: os.Getenv("MINIO_PUBLIC_BASE_URL"),
		},
	}
}

// LoadCameras lê a lista YAML. Problemas de uma câmera específica ficam
// para o manager; aqui só falha arquivo ilegível ou YAML inválido.
func LoadCameras(path string) ([]core.CameraConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lendo %s: %w", path, err)
	}
	var f camerasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Cameras))
	out := f.Cameras[:0]
	for _, c := range f.Cameras {
		c.Name = strings.TrimSpace(c.Name)
		if seen[c.Name] {
			log.Printf("[config] câmera %q duplicada em %s, ignorando", c.Name, path)
			continue
		}
		seen[c.Name] = true
		out = append(out, c)
	}
	return out, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] valor inválido em %s=%q, usando default %d", key, v, def)
		return def
	}
	return n
}

func envDurationSeconds(key string, def time.Duration) time.Duration {
	return envDuration(key, time.Second, def)
}

func envDurationMillis(key string, def time.Duration) time.Duration {
	return envDuration(key, time.Millisecond, def)
}

func envDuration(key string, unit, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] valor inválido em %s=%q, usando default %s", key, v, def)
		return def
	}
	return time.Duration(n) * unit
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
