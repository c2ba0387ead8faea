package internal

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	LogLevel           string        `env:"LOG_LEVEL,default=INFO"`
	Host               string        `env:"HOST,default=0.0.0.0"`
	Port               int           `env:"PORT,default=8080"`
	BadgerFilepath     string        `env:"BADGER_FILEPATH,required=true"`
	JWTSecret          string        `env:"JWT_SECRET,required=true"`
	AllowedOrigins     string        `env:"ALLOWED_ORIGINS"`
	CensoredWords      string        `env:"CENSORED_WORDS"`
	CharReplacement    string        `env:"CHARACTER_REPLACEMENT,default=*"`
	MaxContentLength   int           `env:"MAX_CONTENT_LENGTH,default=2000"`
	OutboxCapacity     int           `env:"OUTBOX_CAPACITY,default=256"`
	MaxMessageSize     int64         `env:"MAX_MESSAGE_SIZE,default=65536"`
	RateLimit          float64       `env:"RATE_LIMIT,default=20"`
	RateBurst          int           `env:"RATE_BURST,default=40"`
	PersistenceTimeout time.Duration `env:"PERSISTENCE_TIMEOUT,default=3s"`
	PersistenceRetries int           `env:"PERSISTENCE_RETRIES,default=3"`
	PersistenceBackoff time.Duration `env:"PERSISTENCE_BACKOFF,default=50ms"`
	RestartInterval    time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	ReportInterval     time.Duration `env:"REPORT_INTERVAL,default=5s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	EnableInspector    bool          `env:"ENABLE_INSPECTOR,default=false"`
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}

// SplitList parses a comma separated variable, dropping blanks.
func SplitList(str string) []string {
	var out []string
	for _, part := range strings.Split(str, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
