package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven service settings.
type Config struct {
	Port            string
	JWTSecret       string
	AMQPURL         string
	AMQPExchange    string
	AuditRoutingKey string
	Environment     string
	OTLPAddr        string
	RedisAddr       string

	EditWindow          time.Duration
	HeartbeatTimeout    time.Duration
	CallIdleTimeout     time.Duration
	CallDisconnectGrace time.Duration
}

// Load reads configuration from the environment, applying defaults.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env file")
	}

	return Config{
		Port:            getEnv("PORT", "8083"),
		JWTSecret:       getEnv("JWT_SECRET", "dev-secret"),
		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "comms_events"),
		AuditRoutingKey: getEnv("AUDIT_ROUTING_KEY", "audit.comms"),
		Environment:     getEnv("SERVICE_ENV", "development"),
		OTLPAddr:        getEnv("OTLP_ADDR", ""),
		RedisAddr:       getEnv("REDIS_ADDR", ""),

		EditWindow:          getDuration("EDIT_WINDOW", 15*time.Minute),
		HeartbeatTimeout:    getDuration("HEARTBEAT_TIMEOUT", 45*time.Second),
		CallIdleTimeout:     getDuration("CALL_IDLE_TIMEOUT", 2*time.Minute),
		CallDisconnectGrace: getDuration("CALL_DISCONNECT_GRACE", 10*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		log.Printf("invalid duration for %s: %v, using default %s", key, err, fallback)
		return fallback
	}
	return parsed
}
