package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flextraff/atcs-core/internal/infrastructure/config"
	"github.com/flextraff/atcs-core/internal/infrastructure/logging"
	"github.com/flextraff/atcs-core/internal/infrastructure/mqtt"
)

const (
	// LaneCount is the number of approach lanes every junction reports.
	LaneCount = 4

	// relayQoS is used for both the counts subscription and timing publishes.
	relayQoS byte = 1

	defaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of a failed calculator response is logged.
	maxErrorBody = 512
)

// Broker is the MQTT surface the relay needs. *mqtt.Client satisfies it.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// TelemetryWriter records relay traffic. *influxdb.Client satisfies it.
type TelemetryWriter interface {
	WriteLaneCounts(junctionID int64, counts []int, at time.Time)
	WriteGreenTimes(junctionID int64, greenTimes []int, cycleTime int, at time.Time)
}

// CountMessage is the payload controllers publish on the counts topic.
type CountMessage struct {
	JunctionID int64 `json:"junction_id"`
	LaneCounts []int `json:"lane_counts"`
}

// Timing is the calculator's answer for one count message.
type Timing struct {
	GreenTimes    []int          `json:"green_times"`
	CycleTime     int            `json:"cycle_time"`
	AlgorithmInfo map[string]any `json:"algorithm_info,omitempty"`
}

// TimingMessage is published on the green-times topic.
type TimingMessage struct {
	GreenTimes []int `json:"green_times"`
	CycleTime  int   `json:"cycle_time"`
	JunctionID int64 `json:"junction_id"`
}

// Options holds the dependencies for New.
type Options struct {
	// Config is the relay section of the loaded configuration.
	Config config.RelayConfig

	// Broker is the connected MQTT client.
	Broker Broker

	// Telemetry is optional. When nil no points are written.
	Telemetry TelemetryWriter

	// HTTPClient is optional. When nil a client with Config.Timeout is used.
	HTTPClient *http.Client

	// Logger is optional. Pass a broadcasting logger to stream relay
	// activity to WebSocket clients.
	Logger *logging.Logger

	// Now is optional and defaults to time.Now.
	Now func() time.Time
}

// Stats is a snapshot of relay counters.
type Stats struct {
	Received  uint64
	Published uint64
	Failed    uint64
}

// Relay subscribes to vehicle counts and answers each with signal timings.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Each message is processed on its own goroutine; Stop waits for them.
type Relay struct {
	cfg       config.RelayConfig
	broker    Broker
	telemetry TelemetryWriter
	http      *http.Client
	logger    *logging.Logger
	now       func() time.Time

	started  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup

	// stopMu orders wg.Add in handleMessage against wg.Wait in Stop.
	stopMu sync.Mutex

	// ctx is cancelled on Stop to abort in-flight calculator requests.
	ctx       context.Context
	ctxCancel context.CancelFunc

	received  atomic.Uint64
	published atomic.Uint64
	failed    atomic.Uint64
}

// New creates a relay. Call Start to subscribe.
func New(opts Options) (*Relay, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("MQTT broker is required")
	}
	if opts.Config.CalculateURL == "" {
		return nil, fmt.Errorf("calculate URL is required")
	}

	cfg := opts.Config
	if cfg.CountsTopic == "" {
		cfg.CountsTopic = mqtt.Topics{}.CarCounts()
	}
	if cfg.GreenTimesTopic == "" {
		cfg.GreenTimesTopic = mqtt.Topics{}.GreenTimes()
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := cfg.Timeout()
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Relay{
		cfg:       cfg,
		broker:    opts.Broker,
		telemetry: opts.Telemetry,
		http:      client,
		logger:    logger.Component("relay"),
		now:       now,
		ctx:       ctx,
		ctxCancel: ctxCancel,
	}, nil
}

// Start subscribes to the counts topic.
func (r *Relay) Start() error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if err := r.broker.Subscribe(r.cfg.CountsTopic, relayQoS, r.handleMessage); err != nil {
		r.started.Store(false)
		return fmt.Errorf("subscribe to counts: %w", err)
	}
	r.logger.Info("relay started",
		"counts_topic", r.cfg.CountsTopic,
		"green_times_topic", r.cfg.GreenTimesTopic,
		"calculate_url", r.cfg.CalculateURL)
	return nil
}

// Stop unsubscribes, cancels in-flight requests and waits for them to finish.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		if r.started.Load() {
			if err := r.broker.Unsubscribe(r.cfg.CountsTopic); err != nil {
				r.logger.Warn("unsubscribe from counts failed", "error", err)
			}
		}
		r.stopMu.Lock()
		r.ctxCancel()
		r.stopMu.Unlock()

		r.wg.Wait()
		r.logger.Info("relay stopped")
	})
}

// Stats returns the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Received:  r.received.Load(),
		Published: r.published.Load(),
		Failed:    r.failed.Load(),
	}
}

// handleMessage runs on the MQTT client's goroutine, so the calculator round
// trip is moved off it.
func (r *Relay) handleMessage(topic string, payload []byte) error {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	if r.ctx.Err() != nil {
		return nil
	}
	r.received.Add(1)
	r.logger.Info("car counts received", "topic", topic, "bytes", len(payload))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.Process(r.ctx, payload); err != nil {
			r.failed.Add(1)
			if errors.Is(err, mqtt.ErrNotConnected) {
				r.logger.Warn("broker offline, green times dropped", "error", err)
				return
			}
			r.logger.Error("car counts not relayed", "error", err)
		}
	}()
	return nil
}

// Process relays one count payload and returns the published timing.
func (r *Relay) Process(ctx context.Context, payload []byte) (*TimingMessage, error) {
	msg, err := r.decodeCounts(payload)
	if err != nil {
		return nil, err
	}
	r.logger.Info("lane counts parsed",
		"junction_id", msg.JunctionID,
		"lane_counts", msg.LaneCounts)

	at := r.now()
	if r.telemetry != nil {
		r.telemetry.WriteLaneCounts(msg.JunctionID, msg.LaneCounts, at)
	}

	timing, err := r.calculate(ctx, msg)
	if err != nil {
		return nil, err
	}
	r.logger.Info("timing calculated",
		"junction_id", msg.JunctionID,
		"green_times", timing.GreenTimes,
		"cycle_time", timing.CycleTime)

	out := &TimingMessage{
		GreenTimes: timing.GreenTimes,
		CycleTime:  timing.CycleTime,
		JunctionID: msg.JunctionID,
	}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal timing: %w", err)
	}
	if err := r.broker.Publish(r.cfg.GreenTimesTopic, body, relayQoS, false); err != nil {
		return nil, fmt.Errorf("publish timing: %w", err)
	}
	r.published.Add(1)
	r.logger.Info("green times published",
		"topic", r.cfg.GreenTimesTopic,
		"junction_id", msg.JunctionID)

	if r.telemetry != nil {
		r.telemetry.WriteGreenTimes(msg.JunctionID, timing.GreenTimes, timing.CycleTime, at)
	}
	return out, nil
}

// decodeCounts parses a count message, applying the default junction when
// junction_id is absent or zero.
func (r *Relay) decodeCounts(payload []byte) (CountMessage, error) {
	var msg CountMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if msg.JunctionID == 0 {
		msg.JunctionID = r.cfg.DefaultJunction
	}
	if msg.JunctionID <= 0 {
		return msg, fmt.Errorf("%w: junction_id must be positive", ErrInvalidPayload)
	}
	if len(msg.LaneCounts) != LaneCount {
		return msg, fmt.Errorf("%w: want %d lane counts, got %d", ErrInvalidPayload, LaneCount, len(msg.LaneCounts))
	}
	for i, c := range msg.LaneCounts {
		if c < 0 {
			return msg, fmt.Errorf("%w: lane %d count is negative", ErrInvalidPayload, i+1)
		}
	}
	return msg, nil
}

// calculate POSTs the counts to the calculator.
func (r *Relay) calculate(ctx context.Context, msg CountMessage) (*Timing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal counts: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.CalculateURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build calculator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCalculator, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", ErrCalculator, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var timing Timing
	if err := json.NewDecoder(resp.Body).Decode(&timing); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrCalculator, err)
	}
	if len(timing.GreenTimes) == 0 {
		return nil, fmt.Errorf("%w: response has no green_times", ErrCalculator)
	}
	return &timing, nil
}
