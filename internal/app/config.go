package app

import (
	"strings"
	"time"

	"github.com/clipforge/clipforge-backend/internal/jobs/worker"
	"github.com/clipforge/clipforge-backend/internal/platform/envutil"
	"github.com/clipforge/clipforge-backend/internal/retry"
	"github.com/clipforge/clipforge-backend/internal/storage"
)

// Config is the top-level env-driven configuration surface, adapted from
// the teacher's app.Config (there, just JWT/token TTLs) expanded to cover
// every knob spec §6.3 names plus the storage/worker settings the teacher
// split across its own db/gcp/jobs packages.
type Config struct {
	JWTSecretKey string
	Port         string
	CORSOrigins  []string

	RunServer bool
	RunWorker bool

	StorageMode            storage.Mode
	LocalStorageRoot       string
	RemoteBucket           string
	RemoteStorageMode      storage.RemoteObjectStorageMode
	StorageEmulatorHost    string
	DeleteLocalAfterUpload bool
	DefaultPresignTTL      time.Duration

	RetryMaxAttempts map[string]int

	Worker worker.Config
}

func LoadConfig() Config {
	cors := envutil.String("CORS_ORIGINS", "http://localhost:3000")
	return Config{
		JWTSecretKey: envutil.String("JWT_SECRET_KEY", "dev-secret-change-me"),
		Port:         envutil.String("PORT", "8080"),
		CORSOrigins:  splitCSV(cors),

		RunServer: envutil.Bool("RUN_SERVER", true),
		RunWorker: envutil.Bool("RUN_WORKER", false),

		StorageMode:            storage.Mode(envutil.String("STORAGE_MODE", string(storage.ModeLocalAndRemote))),
		LocalStorageRoot:       envutil.String("LOCAL_STORAGE_ROOT", "./work"),
		RemoteBucket:           envutil.String("STORAGE_BUCKET", ""),
		RemoteStorageMode:      storage.RemoteObjectStorageMode(envutil.String("OBJECT_STORAGE_MODE", string(storage.RemoteModeGCS))),
		StorageEmulatorHost:    envutil.String("STORAGE_EMULATOR_HOST", ""),
		DeleteLocalAfterUpload: envutil.Bool("DELETE_LOCAL_AFTER_UPLOAD", false),
		DefaultPresignTTL:      envutil.DurationMillis("DEFAULT_PRESIGN_TTL_MS", time.Hour),

		RetryMaxAttempts: envutil.IntMap("RETRY_MAX_ATTEMPTS", retry.DefaultMaxAttempts),

		Worker: worker.ConfigFromEnv(),
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
