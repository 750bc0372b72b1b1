package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

type benchReport struct {
	Version    string         `json:"version"`
	Run        runInfo        `json:"run"`
	Workload   workloadInfo   `json:"workload"`
	LatencyMS  latencyInfo    `json:"latency_ms"`
	Throughput throughputInfo `json:"throughput"`
	Protocol   protocolInfo   `json:"protocol"`
	Errors     errorInfo      `json:"errors"`
}

type runInfo struct {
	Timestamp string `json:"timestamp"`
	Go        string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUCount  int    `json:"cpu_count"`
	GitCommit string `json:"git_commit,omitempty"`
}

type workloadInfo struct {
	Profile          string  `json:"profile"`
	Target           string  `json:"target"`
	Clients          int     `json:"clients"`
	DurationMS       int64   `json:"duration_ms"`
	RPSPerClient     float64 `json:"rps_per_client"`
	MaxConnections   int     `json:"max_connections,omitempty"`
	GenerateRatio    float64 `json:"generate_ratio"`
	MaxProcs         int     `json:"max_procs"`
	RequestTimeoutMS int64   `json:"request_timeout_ms"`
}

type latencyInfo struct {
	Min float64 `json:"min"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type throughputInfo struct {
	RequestsTotal        uint64  `json:"requests_total"`
	RequestsPerSec       float64 `json:"requests_per_sec"`
	RequestsPerSecClient float64 `json:"requests_per_sec_per_client"`
}

type protocolInfo struct {
	RequestBytesTotal uint64  `json:"request_bytes_total"`
	ReplyBytesTotal   uint64  `json:"reply_bytes_total"`
	AvgRequestBytes   float64 `json:"avg_request_bytes"`
	AvgReplyBytes     float64 `json:"avg_reply_bytes"`
	Available         uint64  `json:"available_total"`
	Generated         uint64  `json:"generated_total"`
}

type errorInfo struct {
	TotalErrors       uint64 `json:"total_errors"`
	Rejected          uint64 `json:"rejected"`
	HandshakeFailures uint64 `json:"handshake_failures"`
	WriteFailures     uint64 `json:"write_failures"`
	DecodeFailures    uint64 `json:"decode_failures"`
	ReplyMissing      uint64 `json:"reply_missing"`
	ServerClosed      uint64 `json:"server_closed"`
}

func buildReport(
	cfg benchConfig,
	elapsed time.Duration,
	latencies []time.Duration,
	counters *benchCounters,
	errCount *benchErrors,
) benchReport {
	total := counters.requestsComplete.Load()
	sent := counters.requestsSent.Load()
	requestBytes := counters.requestBytes.Load()
	replyBytes := counters.replyBytes.Load()

	elapsedSeconds := math.Max(0.001, elapsed.Seconds())
	perSec := float64(total) / elapsedSeconds

	latency := latencyInfo{}
	if len(latencies) > 0 {
		latency = latencyInfo{
			Min: ms(latencies[0]),
			P50: ms(percentile(latencies, 0.50)),
			P95: ms(percentile(latencies, 0.95)),
			P99: ms(percentile(latencies, 0.99)),
			Max: ms(latencies[len(latencies)-1]),
		}
	}

	avgRequest := 0.0
	if sent > 0 {
		avgRequest = float64(requestBytes) / float64(sent)
	}
	avgReply := 0.0
	if total > 0 {
		avgReply = float64(replyBytes) / float64(total)
	}

	target := cfg.URL
	maxConns := 0
	if target == "" {
		target = "in-process"
		maxConns = cfg.MaxConnections
	}

	return benchReport{
		Version: "1",
		Run: runInfo{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Go:        runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCount:  runtime.NumCPU(),
			GitCommit: gitCommit(),
		},
		Workload: workloadInfo{
			Profile:          cfg.Profile,
			Target:           target,
			Clients:          cfg.Clients,
			DurationMS:       cfg.Duration.Milliseconds(),
			RPSPerClient:     cfg.RPS,
			MaxConnections:   maxConns,
			GenerateRatio:    cfg.GenerateRatio,
			MaxProcs:         cfg.MaxProcs,
			RequestTimeoutMS: cfg.RequestTimeout.Milliseconds(),
		},
		LatencyMS: latency,
		Throughput: throughputInfo{
			RequestsTotal:        total,
			RequestsPerSec:       perSec,
			RequestsPerSecClient: perSec / float64(cfg.Clients),
		},
		Protocol: protocolInfo{
			RequestBytesTotal: requestBytes,
			ReplyBytesTotal:   replyBytes,
			AvgRequestBytes:   avgRequest,
			AvgReplyBytes:     avgReply,
			Available:         counters.available.Load(),
			Generated:         counters.generated.Load(),
		},
		Errors: errorInfo{
			TotalErrors:       errCount.totalErrors.Load(),
			Rejected:          errCount.rejected.Load(),
			HandshakeFailures: errCount.handshakeFailures.Load(),
			WriteFailures:     errCount.writeFailures.Load(),
			DecodeFailures:    errCount.decodeFailures.Load(),
			ReplyMissing:      errCount.replyMissing.Load(),
			ServerClosed:      errCount.serverClosed.Load(),
		},
	}
}

func writeSummary(w io.Writer, report benchReport) {
	fmt.Fprintln(w, "=== Tether Load Benchmark ===")
	fmt.Fprintf(w, "Profile: %s\n", report.Workload.Profile)
	fmt.Fprintf(w, "Target: %s\n", report.Workload.Target)
	fmt.Fprintf(w, "Clients: %d\n", report.Workload.Clients)
	if report.Workload.MaxConnections > 0 {
		fmt.Fprintf(w, "Gate capacity: %d\n", report.Workload.MaxConnections)
	}
	fmt.Fprintf(w, "Duration: %s\n", time.Duration(report.Workload.DurationMS)*time.Millisecond)
	fmt.Fprintf(w, "Target per-client rate: %.2f requests/s\n", report.Workload.RPSPerClient)
	if report.Workload.MaxProcs > 0 {
		fmt.Fprintf(w, "GOMAXPROCS cap: %d\n", report.Workload.MaxProcs)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Total requests: %d\n", report.Throughput.RequestsTotal)
	fmt.Fprintf(w, "Throughput: %.1f requests/s (%.2f per client)\n", report.Throughput.RequestsPerSec, report.Throughput.RequestsPerSecClient)
	fmt.Fprintf(w, "Rejected (429): %d\n", report.Errors.Rejected)
	fmt.Fprintf(w, "Errors: %d\n", report.Errors.TotalErrors)
	fmt.Fprintln(w)

	if report.LatencyMS.Max == 0 {
		fmt.Fprintln(w, "No latency samples recorded.")
		return
	}
	fmt.Fprintln(w, "RTT (client send -> server -> client receive+decode):")
	fmt.Fprintf(w, "  min: %.2f ms\n", report.LatencyMS.Min)
	fmt.Fprintf(w, "  p50: %.2f ms\n", report.LatencyMS.P50)
	fmt.Fprintf(w, "  p95: %.2f ms\n", report.LatencyMS.P95)
	fmt.Fprintf(w, "  p99: %.2f ms\n", report.LatencyMS.P99)
	fmt.Fprintf(w, "  max: %.2f ms\n", report.LatencyMS.Max)
}

func writeJSON(path string, report benchReport) error {
	var out io.Writer
	if path == "-" {
		out = os.Stdout
	} else {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func gitCommit() string {
	if val := strings.TrimSpace(os.Getenv("TETHER_GIT_COMMIT")); val != "" {
		return val
	}
	if val := strings.TrimSpace(os.Getenv("GIT_COMMIT")); val != "" {
		return val
	}
	out, err := exec.Command("git", "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
