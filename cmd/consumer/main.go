// The consumer drains the inbound-messages topic and forwards each chat
// message to the API server, which owns the session state. Forwarding is
// retried with backoff; messages that keep failing are dropped and counted.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/chat2carpool/internal/config"
	"github.com/example/chat2carpool/internal/logging"
	"github.com/example/chat2carpool/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total inbound chat messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total undecodable messages received",
	})
	msgsForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_forwarded_total",
		Help: "Total messages forwarded to the API",
	})
	forwardErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_forward_errors_total",
		Help: "Total messages dropped after forward retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, msgsForwarded, forwardErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	apiEndpoint := os.Getenv("API_ENDPOINT")
	if apiEndpoint == "" {
		apiEndpoint = "http://localhost:8080/api/v1/messages"
	}
	forwarder := &apiForwarder{Endpoint: apiEndpoint, Client: &http.Client{Timeout: 10 * time.Second}}

	brokers := cfg.KafkaBrokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.InboundTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer r.Close()

	logger.Info("consumer listening", "topic", cfg.InboundTopic, "brokers", brokers, "group", cfg.ConsumerGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var msg models.InboundMessage
		if err := json.Unmarshal(m.Value, &msg); err != nil || msg.SessionID == "" || msg.Body == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}

		if err := processWithRetry(ctx, forwarder, msg, 3, 200*time.Millisecond); err != nil {
			forwardErrors.Inc()
			logger.Error("forward failed, dropping message", "session_id", msg.SessionID, "error", err)
			continue
		}
		msgsForwarded.Inc()
	}
}

// MessageProcessor is the seam between the read loop and message delivery,
// so the retry logic is testable without Kafka or an API server.
type MessageProcessor interface {
	Process(ctx context.Context, msg models.InboundMessage) error
}

type apiForwarder struct {
	Endpoint string
	Client   *http.Client
}

func (f *apiForwarder) Process(ctx context.Context, msg models.InboundMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("api returned %s", resp.Status)
	}
	return nil
}

// processWithRetry delivers the message with exponential backoff between
// attempts, returning the last error once attempts are exhausted.
func processWithRetry(ctx context.Context, p MessageProcessor, msg models.InboundMessage, attempts int, delay time.Duration) error {
	var last error
	for i := 0; i < attempts; i++ {
		if last = p.Process(ctx, msg); last == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return last
}
