// Package config defines the controller's tunables as a Config struct
// built with functional options, the same Opt/applier shape pkg/kfake
// uses for its cluster config, and the pattern a broker's own
// flags-to-config wiring follows when turning CLI input into a typed
// config struct.
package config

import "time"

// Config holds every knob the controller core exposes. Zero value is
// invalid; use New to get the documented defaults.
type Config struct {
	BrokerID int32

	ZKAddrs       []string
	ZKSessionTTL  time.Duration
	ZKPathPrefix  string

	// ZKDigestCredential, when non-empty, is sent as a "user:pass"
	// digest-scheme credential right after connecting, for ensembles
	// that enforce ACLs on the controller paths. Empty means connect
	// unauthenticated.
	ZKDigestCredential string

	// UncleanLeaderElectionEnabled is looked up per-topic in a real
	// deployment (topic config); the default here seeds topics that
	// don't override it.
	UncleanLeaderElectionEnabledDefault bool

	ControlledShutdownPartitionBatchSize int
	ControlledShutdownMaxRetries         int
	ControlledShutdownRetryBackoff       time.Duration

	AutoLeaderRebalanceEnabled  bool
	AutoLeaderRebalanceInterval time.Duration
	LeaderImbalanceThresholdPct int // e.g. 10 means 10%

	IsrChangeNotificationFlushInterval time.Duration
	LogDirEventPollInterval            time.Duration
}

// Opt configures a Config. Mirrors the applier-over-interface style in
// pkg/kfake's cfg/Opt pair.
type Opt interface {
	apply(*Config)
}

type optFunc func(*Config)

func (f optFunc) apply(c *Config) { f(c) }

func WithBrokerID(id int32) Opt {
	return optFunc(func(c *Config) { c.BrokerID = id })
}

func WithZK(addrs []string, sessionTTL time.Duration, pathPrefix string) Opt {
	return optFunc(func(c *Config) {
		c.ZKAddrs = addrs
		c.ZKSessionTTL = sessionTTL
		c.ZKPathPrefix = pathPrefix
	})
}

func WithUncleanLeaderElectionDefault(enabled bool) Opt {
	return optFunc(func(c *Config) { c.UncleanLeaderElectionEnabledDefault = enabled })
}

func WithControlledShutdown(batchSize, maxRetries int, backoff time.Duration) Opt {
	return optFunc(func(c *Config) {
		c.ControlledShutdownPartitionBatchSize = batchSize
		c.ControlledShutdownMaxRetries = maxRetries
		c.ControlledShutdownRetryBackoff = backoff
	})
}

func WithZKDigestCredential(cred string) Opt {
	return optFunc(func(c *Config) { c.ZKDigestCredential = cred })
}

func WithAutoLeaderRebalance(enabled bool, interval time.Duration, thresholdPct int) Opt {
	return optFunc(func(c *Config) {
		c.AutoLeaderRebalanceEnabled = enabled
		c.AutoLeaderRebalanceInterval = interval
		c.LeaderImbalanceThresholdPct = thresholdPct
	})
}

// New returns the documented defaults, then applies opts in order.
func New(opts ...Opt) Config {
	c := Config{
		ZKSessionTTL:                          6 * time.Second,
		UncleanLeaderElectionEnabledDefault:   false,
		ControlledShutdownPartitionBatchSize:  10,
		ControlledShutdownMaxRetries:          3,
		ControlledShutdownRetryBackoff:        time.Second,
		AutoLeaderRebalanceEnabled:            true,
		AutoLeaderRebalanceInterval:           5 * time.Minute,
		LeaderImbalanceThresholdPct:           10,
		IsrChangeNotificationFlushInterval:    5 * time.Second,
		LogDirEventPollInterval:               30 * time.Second,
	}
	for _, o := range opts {
		o.apply(&c)
	}
	return c
}
