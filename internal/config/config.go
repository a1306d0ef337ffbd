package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
// The server and the on-device agent share one config type; each binary reads
// the sections it needs.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Upload struct {
		SessionDir    string
		RecordingDir  string
		SessionMaxAge time.Duration
		SweepInterval time.Duration
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Auth struct {
		JWTSecret string
	}
	Agent struct {
		DataDir     string
		ControlAddr string
		ServerURL   string
		AuthToken   string
		ChunkSize   int64
		Workers     int
		MaxAttempts int
		Backoff     []time.Duration
		MinFileSize int64
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("CALLREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/callrec.db")
	v.SetDefault("upload.sessiondir", "data/sessions")
	v.SetDefault("upload.recordingdir", "data/recordings")
	v.SetDefault("upload.sessionmaxage", "24h")
	v.SetDefault("upload.sweepinterval", "1h")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "call-recordings")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("agent.datadir", "data/agent")
	v.SetDefault("agent.controladdr", "127.0.0.1:8081")
	v.SetDefault("agent.serverurl", "http://127.0.0.1:8080")
	v.SetDefault("agent.authtoken", "")
	v.SetDefault("agent.chunksize", 1<<20)
	v.SetDefault("agent.workers", 2)
	v.SetDefault("agent.maxattempts", 8)
	v.SetDefault("agent.backoff", []string{"5s", "15s", "45s"})
	v.SetDefault("agent.minfilesize", 1024)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Agent.Backoff) == 0 {
		cfg.Agent.Backoff = []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second}
	}

	return cfg, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
