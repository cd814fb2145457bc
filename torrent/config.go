package torrent

import (
	"errors"
	"os"
	"time"

	"github.com/cenkalti/steward/internal/logger"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// Config for Session.
type Config struct {
	// Database file to save resume data.
	Database string `yaml:"database"`
	// DataDir is where files are downloaded.
	DataDir string `yaml:"data-dir"`
	// Number of workers running blocking tasks, shared by all torrents.
	DiskWorkers int `yaml:"disk-workers"`
	// Torrent files larger than this are rejected by AddTorrent.
	MaxTorrentSize int64 `yaml:"max-torrent-size"`

	// Opening a session is retried with exponential backoff while the engine is starting.
	EngineRetryInitialInterval time.Duration `yaml:"engine-retry-initial-interval"`
	EngineRetryMaxInterval     time.Duration `yaml:"engine-retry-max-interval"`
	// Torrent stays in Starting state after this many failed tries.
	EngineRetryMaxTries int `yaml:"engine-retry-max-tries"`

	// Keep seeding after download is complete. If false, the session is removed from the engine on completion.
	SeedFinishedTorrents bool `yaml:"seed-finished-torrents"`
	// Send the first disk error of each torrent to Session.Errors channel.
	ReportDiskProblems bool `yaml:"report-disk-problems"`

	// Max number of links per torrent when the coordinator manages connections.
	MaxConnections int `yaml:"max-connections"`
	// Local peer is reachable by other peers.
	AcceptsIncoming bool `yaml:"accepts-incoming"`
	// Manage connections with admission.Limit instead of leaving it to the engine.
	ManageConnections bool `yaml:"manage-connections"`

	// Start torrents that were running when the session was closed.
	ResumeOnStartup bool `yaml:"resume-on-startup"`
	// Interval of saving transfer counters to the database.
	StatsWriteInterval time.Duration `yaml:"stats-write-interval"`

	// Enable RPC server
	RPCEnabled bool `yaml:"rpc-enabled"`
	// Host to listen for RPC server
	RPCHost string `yaml:"rpc-host"`
	// Listen port for RPC server
	RPCPort int `yaml:"rpc-port"`
	// Time to wait for ongoing requests before shutting down RPC HTTP server.
	RPCShutdownTimeout time.Duration `yaml:"rpc-shutdown-timeout"`

	// One of: debug, info, notice, warning, error, critical
	LogLevel string `yaml:"log-level"`
}

var DefaultConfig = Config{
	Database:                   "~/.steward/resume.db",
	DataDir:                    "~/steward-downloads",
	DiskWorkers:                4,
	MaxTorrentSize:             10 << 20,
	EngineRetryInitialInterval: 500 * time.Millisecond,
	EngineRetryMaxInterval:     5 * time.Second,
	EngineRetryMaxTries:        20,
	SeedFinishedTorrents:       true,
	ReportDiskProblems:         true,
	MaxConnections:             50,
	AcceptsIncoming:            true,
	ResumeOnStartup:            true,
	StatsWriteInterval:         30 * time.Second,
	RPCEnabled:                 true,
	RPCHost:                    "127.0.0.1",
	RPCPort:                    7247,
	RPCShutdownTimeout:         5 * time.Second,
	LogLevel:                   "info",
}

// LoadFile reads the config from a YAML file. Missing fields keep their values in DefaultConfig.
// If the file does not exist, DefaultConfig is returned.
func LoadFile(filename string) (Config, error) {
	c := DefaultConfig
	filename, err := homedir.Expand(filename)
	if err != nil {
		return c, err
	}
	b, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return c, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, c.validate()
}

func (c *Config) validate() error {
	if c.DiskWorkers < 1 {
		return errors.New("disk-workers must be positive")
	}
	if c.StatsWriteInterval <= 0 {
		return errors.New("stats-write-interval must be positive")
	}
	_, err := logger.ParseLevel(c.LogLevel)
	return err
}

// expandPaths replaces "~" in the paths with the home directory of the user.
func (c *Config) expandPaths() error {
	var err error
	c.Database, err = homedir.Expand(c.Database)
	if err != nil {
		return err
	}
	c.DataDir, err = homedir.Expand(c.DataDir)
	return err
}
