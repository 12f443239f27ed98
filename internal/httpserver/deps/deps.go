package deps

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marqd/marqd/internal/collection"
	"github.com/marqd/marqd/internal/gate"
	"github.com/marqd/marqd/internal/logger"
	"github.com/marqd/marqd/internal/scheduler"
	"github.com/marqd/marqd/internal/session"
	"github.com/marqd/marqd/internal/stream"
)

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	TimeNow      func() time.Time // for testing, defaults to time.Now
	AllowedHosts []string         // Host headers allowed to access the server
	AllowedCIDRS []string         // IPs allowed to access ops endpoints
	TrustProxy   bool             // true if running behind a trusted reverse proxy

	RedisClient *redis.Client           // Redis client connection
	Sessions    *session.Provider       // session issue/resolve/revoke
	Gate        *gate.Gate              // request access control
	Collections *collection.Manager     // per-owner synchronized collections
	Feed        *stream.Feed            // change event feed (websocket streaming)
	Seed        *scheduler.SeedImporter // nil when seeding is disabled
	SeedTrigger chan struct{}           // channel to trigger manual seed import (nil if disabled)
}
