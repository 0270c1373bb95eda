package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
)

type Config struct {
	Brokers           []string
	Topic             string
	GroupID           string
	Partitions        int
	ReplicationFactor int

	ConnectRetries    int
	ConnectRetryDelay time.Duration
	RequestTimeout    time.Duration
	WriteAttempts     int

	// SASL/PLAIN credentials; both empty means no authentication.
	Username string
	Password string
	// SecurityProtocol follows the Kafka client names (PLAINTEXT, SSL,
	// SASL_PLAINTEXT, SASL_SSL).
	SecurityProtocol string
}

var ErrNoBrokers = errors.New("no kafka brokers configured")

func (c Config) mechanism() sasl.Mechanism {
	if c.Username == "" && c.Password == "" {
		return nil
	}
	return plain.Mechanism{Username: c.Username, Password: c.Password}
}

func (c Config) tlsConfig() *tls.Config {
	if !strings.HasSuffix(strings.ToUpper(c.SecurityProtocol), "SSL") {
		return nil
	}
	return &tls.Config{MinVersion: tls.VersionTLS12}
}

// Dialer is used for metadata connections and by the consumer group reader.
func (c Config) Dialer() *kafka.Dialer {
	return &kafka.Dialer{
		Timeout:       10 * time.Second,
		DualStack:     true,
		SASLMechanism: c.mechanism(),
		TLS:           c.tlsConfig(),
	}
}

func (c Config) transport() *kafka.Transport {
	return &kafka.Transport{
		DialTimeout: 10 * time.Second,
		SASL:        c.mechanism(),
		TLS:         c.tlsConfig(),
	}
}

// dialAny returns a connection to the first reachable broker.
func dialAny(ctx context.Context, d *kafka.Dialer, brokers []string) (*kafka.Conn, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	var errs []error
	for _, b := range brokers {
		conn, err := d.DialContext(ctx, "tcp", b)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", b, err))
	}
	return nil, errors.Join(errs...)
}
