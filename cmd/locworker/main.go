package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "locworker_messages_consumed_total",
		Help: "Total ride location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "locworker_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	fanoutOK = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "locworker_fanout_total",
		Help: "Total location events republished to the backbone",
	})
	fanoutErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "locworker_fanout_errors_total",
		Help: "Total backbone publish errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, fanoutOK, fanoutErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokers := []string{"localhost:9092"}
	if env := os.Getenv("KAFKA_BROKERS"); env != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(env, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "ride-locations"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "ride-dispatch-locworker"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
	pub := &redisPublisher{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("locworker listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down locworker")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var loc ingest.RideLocation
		if err := json.Unmarshal(m.Value, &loc); err != nil || loc.RideID == "" {
			msgsInvalid.Inc()
			log.Printf("invalid message: %v", err)
			continue
		}

		if err := republishWithRetry(ctx, pub, loc, 3, 200*time.Millisecond); err != nil {
			fanoutErrors.Inc()
			log.Printf("fanout failed for ride=%s: %v", loc.RideID, err)
			continue
		}
		fanoutOK.Inc()
	}
}

// ChannelPublisher is the subset of redis operations needed for the
// fan-out, kept small so tests can fake it.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type redisPublisher struct{ c *redis.Client }

func (r *redisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.c.Publish(ctx, channel, payload).Err()
}

// republishWithRetry turns a queued ride location into a tracking group
// event and publishes it to the backbone with retry and backoff.
func republishWithRetry(ctx context.Context, pub ChannelPublisher, loc ingest.RideLocation, attempts int, delay time.Duration) error {
	payload, err := json.Marshal(models.LocationUpdateEvent{
		Type:     models.EventLocationUpdate,
		Lat:      loc.Lat,
		Lng:      loc.Lng,
		Status:   loc.Status,
		DriverID: loc.DriverID,
	})
	if err != nil {
		return err
	}
	channel := broadcast.Channel(broadcast.RideGroup(loc.RideID))
	for i := 0; i < attempts; i++ {
		if err := pub.Publish(ctx, channel, payload); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}
