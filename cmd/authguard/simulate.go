package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"
)

// stuffingUsers is the username list cycled by the credential-stuffing and
// takeover scenarios.
var stuffingUsers = []string{
	"alice", "bob", "charlie", "david", "emma", "frank", "grace", "henry",
}

// simEvent is one synthetic authentication attempt.
type simEvent struct {
	Username string
	IP       string
	Endpoint string
	Outcome  string
	Reason   string
	Agent    string
	Source   string
	Latency  float64
}

// scenario produces the i-th event of an attack pattern.
type scenario struct {
	name          string
	defaultEvents int
	event         func(i int) simEvent
}

var scenarios = map[string]scenario{
	"bruteforce": {
		name:          "brute force",
		defaultEvents: 10,
		event: func(i int) simEvent {
			return simEvent{
				Username: "admin",
				IP:       "10.0.0.200",
				Endpoint: "LOGIN",
				Outcome:  "FAILURE",
				Reason:   "INVALID_PASSWORD",
				Agent:    "BruteForceBot/1.0",
				Source:   "simulator-bruteforce",
				Latency:  120,
			}
		},
	},
	"stuffing": {
		name:          "credential stuffing",
		defaultEvents: 8,
		event: func(i int) simEvent {
			return simEvent{
				Username: stuffingUsers[i%len(stuffingUsers)],
				IP:       "10.0.0.99",
				Endpoint: "LOGIN",
				Outcome:  "FAILURE",
				Reason:   "INVALID_PASSWORD",
				Agent:    "CredStuffBot/1.0",
				Source:   "simulator-credstuff",
				Latency:  100,
			}
		},
	},
	"takeover": {
		name:          "account takeover",
		defaultEvents: 6,
		event: func(i int) simEvent {
			return simEvent{
				Username: "emma",
				IP:       fmt.Sprintf("10.0.%d.%d", (i/250)+1, i%250+1),
				Endpoint: "LOGIN",
				Outcome:  "SUCCESS",
				Agent:    "TakeoverBot/1.0",
				Source:   "simulator-takeover",
				Latency:  110,
			}
		},
	},
	"otpbomb": {
		name:          "OTP bombing",
		defaultEvents: 8,
		event: func(i int) simEvent {
			return simEvent{
				Username: "jane.doe",
				IP:       "10.0.0.77",
				Endpoint: "OTP",
				Outcome:  "FAILURE",
				Reason:   "INVALID_OTP",
				Agent:    "OtpBombBot/1.0",
				Source:   "simulator-otp-bombing",
				Latency:  90,
			}
		},
	},
}

func runSimulate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	target := fs.String("target", "http://127.0.0.1:8080", "base URL of the ingest endpoint")
	name := fs.String("scenario", "bruteforce", "bruteforce | stuffing | takeover | otpbomb")
	events := fs.Int("events", 0, "number of events (0 = scenario default)")
	delay := fs.Duration("delay", 300*time.Millisecond, "pause between events")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	sc, ok := scenarios[*name]
	if !ok {
		fmt.Fprintf(stderr, "Unknown scenario: %s (want bruteforce, stuffing, takeover, or otpbomb)\n", *name)
		return 2
	}
	n := *events
	if n <= 0 {
		n = sc.defaultEvents
	}

	fmt.Fprintf(stdout, "[+] Starting %s simulation against %s (%d events)\n", sc.name, *target, n)

	client := &http.Client{Timeout: 5 * time.Second}
	for i := 0; i < n; i++ {
		ev := sc.event(i)
		if err := sendEvent(client, *target, ev, i+1, stdout); err != nil {
			fmt.Fprintf(stderr, "[!] %v\n", err)
			return 1
		}
		if i < n-1 {
			time.Sleep(*delay)
		}
	}

	fmt.Fprintf(stdout, "[+] %s simulation complete\n", sc.name)
	return 0
}

func sendEvent(client *http.Client, target string, ev simEvent, attempt int, stdout io.Writer) error {
	payload := map[string]any{
		"timestamp_ms":  time.Now().UnixMilli(),
		"username":      ev.Username,
		"ip_address":    ev.IP,
		"user_agent":    ev.Agent,
		"endpoint":      ev.Endpoint,
		"method":        "POST",
		"outcome":       ev.Outcome,
		"latency_ms":    ev.Latency,
		"ingest_source": ev.Source,
	}
	if ev.Reason != "" {
		payload["failure_reason"] = ev.Reason
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	resp, err := client.Post(target+"/events/auth", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("attempt %d: %w", attempt, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out struct {
		Status string `json:"status"`
		Result struct {
			Decision       string  `json:"decision"`
			RiskScore      float64 `json:"risk_score"`
			DecisionReason string  `json:"decision_reason"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("attempt %d: decode response (status %d): %w", attempt, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("attempt %d: ingest returned status %d", attempt, resp.StatusCode)
	}

	fmt.Fprintf(stdout, "[Attempt %d] %s=%s | Risk=%.2f | %s\n",
		attempt, ev.Username, out.Result.Decision, out.Result.RiskScore, out.Result.DecisionReason)
	return nil
}
