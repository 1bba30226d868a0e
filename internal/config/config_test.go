package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaults(t *testing.T) {
	c := New()
	assert.Equal(t, 6*time.Second, c.ZKSessionTTL)
	assert.False(t, c.UncleanLeaderElectionEnabledDefault)
	assert.Equal(t, 10, c.ControlledShutdownPartitionBatchSize)
	assert.Equal(t, 3, c.ControlledShutdownMaxRetries)
	assert.True(t, c.AutoLeaderRebalanceEnabled)
	assert.Equal(t, 10, c.LeaderImbalanceThresholdPct)
	assert.Empty(t, c.ZKDigestCredential)
}

func TestNewAppliesOptsInOrder(t *testing.T) {
	c := New(
		WithBrokerID(7),
		WithZK([]string{"zk1:2181", "zk2:2181"}, 10*time.Second, "/kcctl"),
		WithZKDigestCredential("admin:secret"),
		WithUncleanLeaderElectionDefault(true),
		WithControlledShutdown(5, 2, 500*time.Millisecond),
		WithAutoLeaderRebalance(false, time.Minute, 25),
	)

	assert.EqualValues(t, 7, c.BrokerID)
	assert.Equal(t, []string{"zk1:2181", "zk2:2181"}, c.ZKAddrs)
	assert.Equal(t, 10*time.Second, c.ZKSessionTTL)
	assert.Equal(t, "/kcctl", c.ZKPathPrefix)
	assert.Equal(t, "admin:secret", c.ZKDigestCredential)
	assert.True(t, c.UncleanLeaderElectionEnabledDefault)
	assert.Equal(t, 5, c.ControlledShutdownPartitionBatchSize)
	assert.Equal(t, 2, c.ControlledShutdownMaxRetries)
	assert.Equal(t, 500*time.Millisecond, c.ControlledShutdownRetryBackoff)
	assert.False(t, c.AutoLeaderRebalanceEnabled)
	assert.Equal(t, time.Minute, c.AutoLeaderRebalanceInterval)
	assert.Equal(t, 25, c.LeaderImbalanceThresholdPct)
}
