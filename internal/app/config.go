package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	MongoURI             string
	MongoDatabase        string
	MongoCacheCollection string
	// RedisURL enables the shared resolver cache. Empty keeps it in memory.
	RedisURL string

	StorageRoot        string
	TorrentListenPort  int
	TorrentNoDHT       bool
	TorrentMaxConns    int
	EngineReadyTimeout time.Duration
	SessionIdleTimeout time.Duration

	FFMPEGPath            string
	FFProbePath           string
	TranscodePreset       string
	TranscodeCRF          int
	TranscodeAudioBitrate string

	CacheRetention          time.Duration
	CacheEvictDeleteRecords bool
	StreamChunkBytes        int64

	TorrentFetchTimeout  time.Duration
	TorrentFetchMaxBytes int64
	ResolverCacheTTL     time.Duration
	ResolverCacheSize    int

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	OTLPEndpoint   string
	OTelSampleRate float64
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		MongoURI:             getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:        getEnv("MONGO_DB", "moviestream"),
		MongoCacheCollection: getEnv("MONGO_CACHE_COLLECTION", "cache_entries"),
		RedisURL:             strings.TrimSpace(getEnv("REDIS_URL", "")),

		StorageRoot:        getEnv("STORAGE_ROOT", "data"),
		TorrentListenPort:  int(getEnvInt64("TORRENT_LISTEN_PORT", 0)),
		TorrentNoDHT:       getEnvBool("TORRENT_NO_DHT", false),
		TorrentMaxConns:    int(getEnvInt64("TORRENT_MAX_CONNS", 0)),
		EngineReadyTimeout: getEnvDuration("ENGINE_READY_TIMEOUT", 2*time.Minute),
		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 5*time.Minute),

		FFMPEGPath:            getEnv("FFMPEG_PATH", "ffmpeg"),
		FFProbePath:           getEnv("FFPROBE_PATH", "ffprobe"),
		TranscodePreset:       getEnv("TRANSCODE_PRESET", "veryfast"),
		TranscodeCRF:          int(getEnvInt64("TRANSCODE_CRF", 23)),
		TranscodeAudioBitrate: getEnv("TRANSCODE_AUDIO_BITRATE", "128k"),

		CacheRetention:          getEnvDuration("CACHE_RETENTION", 30*24*time.Hour),
		CacheEvictDeleteRecords: getEnvBool("CACHE_EVICT_DELETE_RECORDS", true),
		StreamChunkBytes:        getEnvInt64("STREAM_CHUNK_BYTES", 5<<20),

		TorrentFetchTimeout:  getEnvDuration("TORRENT_FETCH_TIMEOUT", 15*time.Second),
		TorrentFetchMaxBytes: getEnvInt64("TORRENT_FETCH_MAX_BYTES", 10<<20),
		ResolverCacheTTL:     getEnvDuration("RESOLVER_CACHE_TTL", time.Hour),
		ResolverCacheSize:    int(getEnvInt64("RESOLVER_CACHE_SIZE", 1024)),

		CORSAllowedOrigins: parseCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 100),
		RateLimitBurst:     int(getEnvInt64("RATE_LIMIT_BURST", 200)),

		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelSampleRate: getEnvFloat("OTEL_SAMPLE_RATE", 0.1),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go duration strings ("90s", "720h").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func parseCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
