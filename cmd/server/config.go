package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sale-engine/publisher"
	"github.com/warp/sale-engine/sale"
)

// config is the resolved server configuration. Every flag defaults to an
// environment variable so containers can be configured without arguments.
type config struct {
	Port           int
	DBPath         string
	TaxRate        decimal.Decimal
	KafkaBrokers   []string
	KafkaTopic     string
	OutboxInterval time.Duration
	OTLPEndpoint   string
	OTLPInsecure   bool
	AllowedOrigins []string
	Dev            bool
}

func parseConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)

	port := fs.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := fs.String("db", envString("DATABASE_PATH", "pos.db"), "SQLite database path (\":memory:\" for in-memory)")
	taxRate := fs.String("tax-rate", envString("TAX_RATE", sale.DefaultTaxRate.String()), "Sales tax rate as a fraction (0.10 = 10%)")
	brokers := fs.String("kafka-brokers", envString("KAFKA_BROKERS", ""), "Comma-separated Kafka brokers; empty disables event publishing")
	topic := fs.String("kafka-topic", envString("KAFKA_TOPIC", publisher.DefaultTopic), "Kafka topic for sale events")
	interval := fs.Duration("outbox-interval", envDuration("OUTBOX_INTERVAL", time.Second), "Outbox polling interval")
	otlp := fs.String("otlp-endpoint", envString("OTLP_ENDPOINT", ""), "OTLP/HTTP trace collector host:port; empty disables export")
	otlpInsecure := fs.Bool("otlp-insecure", envBool("OTLP_INSECURE", true), "Use plain HTTP for the OTLP exporter")
	origins := fs.String("cors-origins", envString("CORS_ORIGINS", ""), "Comma-separated allowed CORS origins")
	dev := fs.Bool("dev", envBool("DEV", false), "Development logging")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	rate, err := decimal.NewFromString(*taxRate)
	if err != nil {
		return config{}, fmt.Errorf("invalid tax rate %q: %w", *taxRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return config{}, fmt.Errorf("tax rate must be in [0, 1), got %s", rate)
	}
	if *interval <= 0 {
		return config{}, fmt.Errorf("outbox interval must be positive, got %s", *interval)
	}

	return config{
		Port:           *port,
		DBPath:         *dbPath,
		TaxRate:        rate,
		KafkaBrokers:   splitList(*brokers),
		KafkaTopic:     *topic,
		OutboxInterval: *interval,
		OTLPEndpoint:   *otlp,
		OTLPInsecure:   *otlpInsecure,
		AllowedOrigins: splitList(*origins),
		Dev:            *dev,
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
