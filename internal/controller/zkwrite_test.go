package controller

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kcctl/kcctl/internal/coord"
	"github.com/kcctl/kcctl/internal/model"
)

func seedPartitionState(t *testing.T, client coord.Client, tp model.TopicPartition, rec leaderIsrRecord) {
	t.Helper()
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, client.Create(context.Background(), coord.PartitionStatePath(tp.Topic, tp.Partition), raw, false))
}

func TestUpdateLeaderEpochBumpsEpochAndWritesBack(t *testing.T) {
	f := coord.NewFake()
	defer f.Close()
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	seedPartitionState(t, f, tp, leaderIsrRecord{Leader: 1, LeaderEpoch: 0, ISR: []int32{1, 2}, ControllerEpoch: 1})

	w := newZkWriter(zap.NewNop(), f)
	lisr, err := w.UpdateLeaderEpoch(tp, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, lisr.LeaderEpoch)

	lisr2, _, _, err := w.readLeaderIsr(tp)
	require.NoError(t, err)
	assert.EqualValues(t, 1, lisr2.LeaderEpoch)
}

func TestUpdateLeaderEpochFailsOnMissingPath(t *testing.T) {
	f := coord.NewFake()
	defer f.Close()
	w := newZkWriter(zap.NewNop(), f)

	_, err := w.UpdateLeaderEpoch(model.TopicPartition{Topic: "ghost", Partition: 0}, 1)
	assert.Error(t, err)
}

func TestUpdateLeaderEpochReturnsErrStaleWhenPersistedEpochIsNewer(t *testing.T) {
	f := coord.NewFake()
	defer f.Close()
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	seedPartitionState(t, f, tp, leaderIsrRecord{Leader: 1, ISR: []int32{1}, ControllerEpoch: 9})

	w := newZkWriter(zap.NewNop(), f)
	_, err := w.UpdateLeaderEpoch(tp, 3)
	assert.ErrorIs(t, err, ErrStale)
}

func TestRemoveReplicaFromIsrShrinksAndClearsLeader(t *testing.T) {
	f := coord.NewFake()
	defer f.Close()
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	seedPartitionState(t, f, tp, leaderIsrRecord{Leader: 2, ISR: []int32{1, 2}, ControllerEpoch: 1})

	w := newZkWriter(zap.NewNop(), f)
	lisr, existed, err := w.RemoveReplicaFromIsr(tp, 2, 1, func(string) bool { return true })
	require.NoError(t, err)
	assert.True(t, existed)
	assert.False(t, lisr.InISR(2))
	assert.EqualValues(t, model.NoLeader, int32(lisr.Leader))
}

func TestRemoveReplicaFromIsrRetainsLastReplicaWhenUncleanDisabled(t *testing.T) {
	f := coord.NewFake()
	defer f.Close()
	tp := model.TopicPartition{Topic: "orders", Partition: 0}
	seedPartitionState(t, f, tp, leaderIsrRecord{Leader: 1, ISR: []int32{1}, ControllerEpoch: 1})

	w := newZkWriter(zap.NewNop(), f)
	lisr, existed, err := w.RemoveReplicaFromIsr(tp, 1, 1, func(string) bool { return false })
	require.NoError(t, err)
	assert.True(t, existed)
	assert.True(t, lisr.InISR(1), "ISR must not be emptied when unclean election is disabled")
}

func TestRemoveReplicaFromIsrMissingPathReturnsNotExisted(t *testing.T) {
	f := coord.NewFake()
	defer f.Close()
	w := newZkWriter(zap.NewNop(), f)

	_, existed, err := w.RemoveReplicaFromIsr(model.TopicPartition{Topic: "ghost", Partition: 0}, 1, 1, func(string) bool { return true })
	require.NoError(t, err)
	assert.False(t, existed)
}
