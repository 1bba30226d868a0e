package coord

import "fmt"

// Paths centralizes the coordination-service layout. Names are
// semantic, not a literal ZooKeeper layout requirement, but we follow the
// conventional Kafka paths since brokers elsewhere in a real deployment
// would expect them.
const (
	ControllerPath                 = "/controller"
	ControllerEpochPath            = "/controller_epoch"
	BrokerIDsPath                  = "/brokers/ids"
	BrokersTopicsPath              = "/brokers/topics"
	ReassignPartitionsPath         = "/admin/reassign_partitions"
	PreferredReplicaElectionPath   = "/admin/preferred_replica_election"
	DeleteTopicsPath               = "/admin/delete_topics"
	IsrChangeNotificationPath      = "/isr_change_notification"
	LogDirEventNotificationPath    = "/log_dir_event_notification"
	TopicDeletionFlagPath          = "/topic_deletion_flag"
)

// BrokerIDPath is the ephemeral registration node for one broker.
func BrokerIDPath(id int32) string {
	return fmt.Sprintf("%s/%d", BrokerIDsPath, id)
}

// TopicPath is the persistent assignment node for one topic.
func TopicPath(topic string) string {
	return fmt.Sprintf("%s/%s", BrokersTopicsPath, topic)
}

// PartitionStatePath is the leader/ISR node for one partition.
func PartitionStatePath(topic string, partition int32) string {
	return fmt.Sprintf("%s/%s/partitions/%d/state", BrokersTopicsPath, topic, partition)
}

// DeleteTopicPath is the per-topic marker under the deletion queue.
func DeleteTopicPath(topic string) string {
	return fmt.Sprintf("%s/%s", DeleteTopicsPath, topic)
}
