package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server ServerConfig
	WebRTC WebRTCConfig
	Room   RoomConfig
}

// ServerConfig holds HTTP/WebSocket server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string
}

// WebRTCConfig configures the MediaRouter's ICE/port surface.
type WebRTCConfig struct {
	AnnouncedIP string   // public IP advertised in ICE candidates; empty lets pion use host candidates as-is
	PortMin     uint16   // ephemeral UDP port range for media
	PortMax     uint16
	ICEServers  []string // STUN/TURN URLs, comma-separated in env
}

// RoomConfig configures the Lifecycle Supervisor's background reaper.
type RoomConfig struct {
	UnconnectedTransportTimeoutMinutes int
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()
	_ = godotenv.Load("env")

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	portMin, _ := strconv.Atoi(getEnv("WEBRTC_PORT_MIN", "10000"))
	portMax, _ := strconv.Atoi(getEnv("WEBRTC_PORT_MAX", "10100"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		WebRTC: WebRTCConfig{
			AnnouncedIP: getEnv("WEBRTC_ANNOUNCED_IP", ""),
			PortMin:     uint16(portMin),
			PortMax:     uint16(portMax),
			ICEServers:  splitTrim(getEnv("WEBRTC_ICE_URLS", "stun:stun.l.google.com:19302"), ","),
		},
		Room: RoomConfig{
			UnconnectedTransportTimeoutMinutes: getEnvInt("ROOM_UNCONNECTED_TRANSPORT_TIMEOUT_MINUTES", 30),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
