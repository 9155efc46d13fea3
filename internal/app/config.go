package app

import (
	"time"

	"github.com/PoetCoderJun/autocut-backend/internal/platform/envutil"
)

// Config is the app-level slice of the environment: the knobs that decide
// what gets wired at startup. Component-local tuning (upload caps, driver
// endpoints, cleanup policy) is read by the owning package.
type Config struct {
	WorkDir        string
	Port           string
	EmbeddedWorker bool
	RunServer      bool

	AuthEnabled bool

	OSSBucket string

	WorkerPollSeconds time.Duration
}

func LoadConfig() Config {
	return Config{
		WorkDir:           envutil.String("WORK_DIR", "./work"),
		Port:              envutil.String("PORT", "8080"),
		EmbeddedWorker:    envutil.Bool("WEB_EMBEDDED_WORKER", true),
		RunServer:         envutil.Bool("RUN_SERVER", true),
		AuthEnabled:       envutil.Bool("WEB_AUTH_ENABLED", true),
		OSSBucket:         envutil.String("OSS_BUCKET", ""),
		WorkerPollSeconds: time.Duration(envutil.Int("WORKER_POLL_SECONDS", 2)) * time.Second,
	}
}
