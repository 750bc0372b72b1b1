// Command tether-bench drives concurrent clients against a tether server
// and reports request latency, admission rejections and errors.
//
// Without -url it starts an in-process server backed by a memory store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/tether/pkg/protocol"
	"github.com/vango-dev/tether/pkg/server"
	"github.com/vango-dev/tether/pkg/username"
)

type profile struct {
	Name           string
	Clients        int
	Duration       time.Duration
	RPS            float64
	MaxConnections int
}

var profiles = map[string]profile{
	"fast": {
		Name:           "fast",
		Clients:        10,
		Duration:       5 * time.Second,
		RPS:            5,
		MaxConnections: 64,
	},
	"standard": {
		Name:           "standard",
		Clients:        100,
		Duration:       30 * time.Second,
		RPS:            10,
		MaxConnections: 1024,
	},
	"stress": {
		Name:           "stress",
		Clients:        1500,
		Duration:       30 * time.Second,
		RPS:            20,
		MaxConnections: 1024,
	},
}

type benchConfig struct {
	Profile        string
	URL            string
	Clients        int
	Duration       time.Duration
	RPS            float64
	MaxConnections int
	GenerateRatio  float64
	MaxProcs       int
	JSONOutput     string
	RequestTimeout time.Duration
}

type benchCounters struct {
	requestsSent     atomic.Uint64
	requestsComplete atomic.Uint64
	requestBytes     atomic.Uint64
	replyBytes       atomic.Uint64
	available        atomic.Uint64
	generated        atomic.Uint64
}

type benchErrors struct {
	rejected          atomic.Uint64
	handshakeFailures atomic.Uint64
	writeFailures     atomic.Uint64
	decodeFailures    atomic.Uint64
	replyMissing      atomic.Uint64
	serverClosed      atomic.Uint64
	totalErrors       atomic.Uint64
}

func main() {
	log.SetFlags(0)

	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}

	wsURL := cfg.URL
	if wsURL == "" {
		url, stop, err := startServer(cfg.MaxConnections)
		if err != nil {
			log.Fatalf("start server: %v", err)
		}
		defer stop()
		wsURL = url
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	report := run(ctx, wsURL, cfg)
	writeSummary(os.Stderr, report)
	if err := writeJSON(cfg.JSONOutput, report); err != nil {
		log.Fatalf("write json: %v", err)
	}
}

func parseConfig(args []string) (benchConfig, error) {
	fs := flag.NewFlagSet("tether-bench", flag.ContinueOnError)
	profileFlag := fs.String("profile", "standard", "profile: fast|standard|stress")
	urlFlag := fs.String("url", "", "server WebSocket URL (default: in-process server)")
	clientsFlag := fs.Int("clients", -1, "number of concurrent websocket clients")
	durationFlag := fs.String("duration", "", "benchmark duration, e.g. 30s")
	rpsFlag := fs.Float64("rps", -1, "target requests/sec per client")
	maxConnFlag := fs.Int("max-connections", -1, "admission gate size of the in-process server")
	genFlag := fs.Float64("generate-ratio", 0.2, "fraction of requests that are GenerateUsername")
	maxProcsFlag := fs.Int("max-procs", -1, "GOMAXPROCS cap (0 to leave unchanged)")
	jsonFlag := fs.String("json", "-", "JSON output path ('-' for stdout)")
	if err := fs.Parse(args); err != nil {
		return benchConfig{}, err
	}

	name := strings.ToLower(strings.TrimSpace(*profileFlag))
	if name == "" {
		name = "standard"
	}
	base, ok := profiles[name]
	if !ok {
		return benchConfig{}, fmt.Errorf("unknown profile %q", name)
	}

	cfg := benchConfig{
		Profile:        base.Name,
		URL:            strings.TrimSpace(*urlFlag),
		Clients:        base.Clients,
		Duration:       base.Duration,
		RPS:            base.RPS,
		MaxConnections: base.MaxConnections,
		GenerateRatio:  *genFlag,
		JSONOutput:     strings.TrimSpace(*jsonFlag),
	}
	if *clientsFlag != -1 {
		cfg.Clients = *clientsFlag
	}
	if *durationFlag != "" {
		d, err := time.ParseDuration(*durationFlag)
		if err != nil {
			return benchConfig{}, fmt.Errorf("invalid -duration: %w", err)
		}
		cfg.Duration = d
	}
	if *rpsFlag != -1 {
		cfg.RPS = *rpsFlag
	}
	if *maxConnFlag != -1 {
		cfg.MaxConnections = *maxConnFlag
	}
	if *maxProcsFlag != -1 {
		cfg.MaxProcs = *maxProcsFlag
	}
	if cfg.JSONOutput == "" {
		cfg.JSONOutput = "-"
	}

	if cfg.Clients <= 0 {
		return benchConfig{}, errors.New("-clients must be > 0")
	}
	if cfg.Duration <= 0 {
		return benchConfig{}, errors.New("-duration must be > 0")
	}
	if cfg.RPS <= 0 {
		return benchConfig{}, errors.New("-rps must be > 0")
	}
	if cfg.MaxConnections <= 0 {
		return benchConfig{}, errors.New("-max-connections must be > 0")
	}
	if cfg.GenerateRatio < 0 || cfg.GenerateRatio > 1 {
		return benchConfig{}, errors.New("-generate-ratio must be within [0, 1]")
	}
	if cfg.MaxProcs < 0 {
		return benchConfig{}, errors.New("-max-procs must be >= 0")
	}

	cfg.RequestTimeout = requestTimeout(cfg.RPS)
	return cfg, nil
}

func requestTimeout(rps float64) time.Duration {
	if rps <= 0 {
		return 0
	}
	period := time.Duration(float64(time.Second) / rps)
	timeout := period * 10
	if timeout < 2*time.Second {
		timeout = 2 * time.Second
	}
	return timeout
}

// startServer runs an in-process server on a loopback port and returns its
// WebSocket URL.
func startServer(maxConnections int) (string, func(), error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := server.New(&server.ServerConfig{
		MaxConnections: maxConnections,
		CheckOrigin:    func(r *http.Request) bool { return true },
		Logger:         logger,
	}, username.NewHandler(username.NewMemoryStore()))

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("listen: %w", err)
	}
	httpServer := &http.Server{Handler: srv.Handler()}
	go func() {
		_ = httpServer.Serve(ln)
	}()
	stop := func() {
		_ = httpServer.Shutdown(context.Background())
	}
	return "ws://" + ln.Addr().String() + "/ws", stop, nil
}

// run starts cfg.Clients clients and waits until ctx ends.
func run(ctx context.Context, wsURL string, cfg benchConfig) benchReport {
	var (
		counters benchCounters
		errCount benchErrors
		samples  []time.Duration
		mu       sync.Mutex
	)
	record := func(rtt time.Duration) {
		mu.Lock()
		samples = append(samples, rtt)
		mu.Unlock()
	}

	start := time.Now()
	var g errgroup.Group
	for i := 0; i < cfg.Clients; i++ {
		clientID := i
		g.Go(func() error {
			if err := runClient(ctx, wsURL, clientID, cfg, &counters, &errCount, record); err != nil {
				errCount.totalErrors.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	mu.Lock()
	latencies := append([]time.Duration(nil), samples...)
	mu.Unlock()
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	return buildReport(cfg, elapsed, latencies, &counters, &errCount)
}

func runClient(
	ctx context.Context,
	wsURL string,
	clientID int,
	cfg benchConfig,
	counters *benchCounters,
	errCount *benchErrors,
	record func(time.Duration),
) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			errCount.rejected.Add(1)
			return fmt.Errorf("rejected by admission gate")
		}
		errCount.handshakeFailures.Add(1)
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Wait for the session to acknowledge a Ping before measuring.
	if err := roundTrip(conn, protocol.Ping{}, cfg.RequestTimeout, counters, errCount); err != nil {
		errCount.handshakeFailures.Add(1)
		return fmt.Errorf("ping: %w", err)
	}

	seed := uint64(time.Now().UnixNano())
	rnd := rand.New(rand.NewPCG(uint64(clientID), seed))
	names := username.NewGenerator(rand.NewPCG(seed, uint64(clientID)))
	period := time.Duration(float64(time.Second) / cfg.RPS)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var req protocol.AppMessage = protocol.CheckUsernameAvailability{Username: names.Next()}
		if rnd.Float64() < cfg.GenerateRatio {
			req = protocol.GenerateUsername{}
		}

		start := time.Now()
		if err := roundTrip(conn, req, cfg.RequestTimeout, counters, errCount); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		counters.requestsComplete.Add(1)
		record(time.Since(start))

		if sleep := period - time.Since(start); sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
	}
}

// roundTrip writes req and reads until the matching reply arrives.
func roundTrip(
	conn *websocket.Conn,
	req protocol.AppMessage,
	timeout time.Duration,
	counters *benchCounters,
	errCount *benchErrors,
) error {
	data := protocol.EncodeAppMessage(req)
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		errCount.writeFailures.Add(1)
		return fmt.Errorf("write: %w", err)
	}
	counters.requestsSent.Add(1)
	counters.requestBytes.Add(uint64(len(data)))

	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
	}
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseInternalServerErr, websocket.CloseGoingAway) {
				errCount.serverClosed.Add(1)
			} else if isTimeout(err) {
				errCount.replyMissing.Add(1)
			}
			return fmt.Errorf("read: %w", err)
		}
		counters.replyBytes.Add(uint64(len(frame)))

		msg, err := protocol.DecodeBackendMessage(frame)
		if err != nil {
			errCount.decodeFailures.Add(1)
			return fmt.Errorf("decode: %w", err)
		}
		if matches(req, msg, counters) {
			return nil
		}
	}
}

func matches(req protocol.AppMessage, reply protocol.BackendMessage, counters *benchCounters) bool {
	switch r := req.(type) {
	case protocol.Ping:
		return reply == protocol.Pong{}
	case protocol.GenerateUsername:
		if _, ok := reply.(protocol.GeneratedUsername); ok {
			counters.generated.Add(1)
			return true
		}
	case protocol.CheckUsernameAvailability:
		if a, ok := reply.(protocol.UsernameAvailability); ok && a.Username == r.Username {
			if a.Available {
				counters.available.Add(1)
			}
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
