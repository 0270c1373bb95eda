// cmd/preflight/main.go
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hamed0406/apiwatch/internal/config"
)

func main() {
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		os.Exit(1)
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintln(os.Stderr, "✖", line)
		}
		os.Exit(1)
	}

	if len(cfg.AdminAPIKeys) == 0 {
		fail("ADMIN_API_KEYS is empty (admin routes are open).")
	}
	if len(cfg.PublicAPIKeys) == 0 {
		fail("PUBLIC_API_KEYS is empty (read routes are open).")
	}
	ok("API_ADDR=" + cfg.Addr)

	if cfg.DatabaseURL == "" {
		warn("DATABASE_URL empty, apiwatch will use the in-memory store.")
	} else {
		ok("DATABASE_URL present")
	}

	ok(fmt.Sprintf("KAFKA_BROKERS=%s topic=%s group=%s protocol=%s",
		strings.Join(cfg.Kafka.Brokers, ","), cfg.Kafka.Topic, cfg.Kafka.GroupID, cfg.Kafka.SecurityProtocol))
	if strings.HasPrefix(cfg.Kafka.SecurityProtocol, "SASL") && (cfg.Kafka.Username == "" || cfg.Kafka.Password == "") {
		fail("KAFKA_SECURITY_PROTOCOL uses SASL but KAFKA_USERNAME/KAFKA_PASSWORD are missing.")
	}

	if cfg.SMTP.Host == "" || cfg.SMTP.From == "" {
		warn("SMTP_HOST or SENDER_EMAIL empty, incident summaries cannot be mailed and checkpoints will not advance.")
	} else {
		ok(fmt.Sprintf("SMTP %s:%d from %s", cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From))
	}
	if cfg.NotifyWebhook == "" {
		warn("NOTIFY_WEBHOOK empty, no ops copy of summaries.")
	}

	ok("preflight passed")
}
