package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
)

type TopicSpec struct {
	Name              string
	Partitions        int
	ReplicationFactor int
}

// EnsureTopic creates the topic through the cluster controller when it has
// no partitions yet. It reports whether the topic was created.
func EnsureTopic(ctx context.Context, d *kafka.Dialer, brokers []string, spec TopicSpec) (bool, error) {
	if spec.Partitions < 1 {
		spec.Partitions = 1
	}
	if spec.ReplicationFactor < 1 {
		spec.ReplicationFactor = 1
	}

	conn, err := dialAny(ctx, d, brokers)
	if err != nil {
		return false, fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	parts, err := conn.ReadPartitions(spec.Name)
	if err == nil && len(parts) > 0 {
		return false, nil
	}
	if err != nil && !errors.Is(err, kafka.UnknownTopicOrPartition) {
		return false, fmt.Errorf("read partitions: %w", err)
	}

	controller, err := conn.Controller()
	if err != nil {
		return false, fmt.Errorf("find controller: %w", err)
	}
	cc, err := d.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return false, fmt.Errorf("dial controller: %w", err)
	}
	defer cc.Close()

	err = cc.CreateTopics(kafka.TopicConfig{
		Topic:             spec.Name,
		NumPartitions:     spec.Partitions,
		ReplicationFactor: spec.ReplicationFactor,
	})
	if errors.Is(err, kafka.TopicAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create topic %s: %w", spec.Name, err)
	}
	return true, nil
}

// probeBrokers succeeds when a broker answers a metadata request. It does
// not require the topic to exist.
func probeBrokers(ctx context.Context, d *kafka.Dialer, brokers []string) error {
	conn, err := dialAny(ctx, d, brokers)
	if err != nil {
		return err
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("read brokers: %w", err)
	}
	return nil
}

// topicExists reports whether the topic has partitions on the cluster.
func topicExists(ctx context.Context, d *kafka.Dialer, brokers []string, topic string) (bool, error) {
	conn, err := dialAny(ctx, d, brokers)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	parts, err := conn.ReadPartitions(topic)
	if errors.Is(err, kafka.UnknownTopicOrPartition) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read partitions: %w", err)
	}
	return len(parts) > 0, nil
}
