package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config is the process configuration, read from the environment.
type Config struct {
	HTTPAddr    string
	CORSOrigins []string
	Store       string // "postgres" or "memory"

	DB DBConfig

	LogLevel  string
	LogFile   string
	LogStdout bool

	JWTSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MQTTBroker   string
	MQTTClientID string
	MQTTTopic    string
	MQTTUsername string
	MQTTPassword string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	FCMEndpoint  string
	FCMServerKey string

	RiskModelPath  string
	RiskScalerPath string

	CenterTimezone string

	SweepInterval    time.Duration
	SweepConcurrency int
	SweepLeaseTTL    time.Duration

	SafeZone SafeZoneSeed
}

// DBConfig holds the Postgres connection settings.
type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	Timezone string
}

// SafeZoneSeed describes the zone written when the safe_zones table is empty.
// Seeding only happens when both coordinates are set.
type SafeZoneSeed struct {
	Name         string
	Latitude     string
	Longitude    string
	RadiusMeters float64
}

// Load reads .env (if present) and the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found; relying on environment variables.")
	}

	return Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		CORSOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		Store:       getEnv("STORE", "postgres"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "guardian"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Timezone: getEnv("DB_TIMEZONE", "UTC"),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFile:   getEnv("LOG_FILE", "./logs/app.log"),
		LogStdout: getEnvBool("LOG_STDOUT", false),

		JWTSecret: getEnv("JWT_SECRET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MQTTBroker:   getEnv("MQTT_BROKER", ""),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "guardian-tracker"),
		MQTTTopic:    getEnv("MQTT_TOPIC", "guardian/wearables/+/telemetry"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "alerts@guardian.local"),

		FCMEndpoint:  getEnv("FCM_ENDPOINT", "https://fcm.googleapis.com/fcm/send"),
		FCMServerKey: getEnv("FCM_SERVER_KEY", ""),

		RiskModelPath:  getEnv("RISK_MODEL_PATH", "./models/risk_model.json"),
		RiskScalerPath: getEnv("RISK_SCALER_PATH", "./models/risk_scaler.json"),

		CenterTimezone: getEnv("CENTER_TIMEZONE", "UTC"),

		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", 15*time.Minute),
		SweepConcurrency: getEnvInt("SWEEP_CONCURRENCY", 4),
		SweepLeaseTTL:    getEnvDuration("SWEEP_LEASE_TTL", 5*time.Minute),

		SafeZone: SafeZoneSeed{
			Name:         getEnv("SAFE_ZONE_NAME", "Main Center"),
			Latitude:     getEnv("SAFE_ZONE_LAT", ""),
			Longitude:    getEnv("SAFE_ZONE_LON", ""),
			RadiusMeters: getEnvFloat("SAFE_ZONE_RADIUS", 100),
		},
	}
}

// Location returns the center's time zone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.CenterTimezone)
	if err != nil {
		logrus.WithError(err).WithField("timezone", c.CenterTimezone).Warn("Unknown CENTER_TIMEZONE; using UTC.")
		return time.UTC
	}
	return loc
}

// getEnv reads an environment variable or returns the provided default
func getEnv(key, defaultValue string) string {
	if v, exists := os.LookupEnv(key); exists {
		return v
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.WithField("key", key).Warn("Invalid integer in environment; using default.")
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logrus.WithField("key", key).Warn("Invalid number in environment; using default.")
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logrus.WithField("key", key).Warn("Invalid duration in environment; using default.")
		return defaultValue
	}
	return d
}
