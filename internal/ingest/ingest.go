// Package ingest implements the /ingest endpoint's event pipeline:
// parsing a KaitEventV1-shaped JSON object (or newline-delimited
// stream of them), enforcing the per-source rate limit, quarantining
// malformed or rejected events to a bounded file, and writing accepted
// events into the Reasoning Bank — scoring sentiment and mood along
// the way for events that carry a user/AI exchange.
//
// Grounded on original_source/adapters/stdin_ingest.py (the event
// shape: source/kind/session_id/trace_id) and
// original_source/tests/test_kaitd_hardening.py (rate limiter and
// quarantine semantics).
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"kait/internal/bank"
	"kait/internal/config"
	"kait/internal/errs"
	"kait/internal/mood"
	"kait/internal/sentiment"
)

// Event is one KaitEventV1 payload accepted by /ingest.
type Event struct {
	Source     string  `json:"source"`
	Kind       string  `json:"kind"` // "interaction" (default) | "correction" | "preference"
	SessionID  string  `json:"session_id"`
	TraceID    string  `json:"trace_id,omitempty"`
	UserInput  string  `json:"user_input,omitempty"`
	AIResponse string  `json:"ai_response,omitempty"`
	Timestamp  float64 `json:"timestamp,omitempty"`

	// Correction-kind fields.
	CorrectionText string `json:"correction_text,omitempty"`
	Domain         string `json:"domain,omitempty"`
	Reason         string `json:"reason,omitempty"`

	// Preference-kind fields.
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
}

func (e Event) validate() error {
	if e.Source == "" {
		return fmt.Errorf("%w: missing source", errs.ErrIngestInvalid)
	}
	switch e.Kind {
	case "", "interaction":
		if e.UserInput == "" && e.AIResponse == "" {
			return fmt.Errorf("%w: interaction event needs user_input or ai_response", errs.ErrIngestInvalid)
		}
	case "correction":
		if e.CorrectionText == "" {
			return fmt.Errorf("%w: correction event needs correction_text", errs.ErrIngestInvalid)
		}
	case "preference":
		if e.Key == "" {
			return fmt.Errorf("%w: preference event needs key", errs.ErrIngestInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", errs.ErrIngestInvalid, e.Kind)
	}
	return nil
}

// Result reports how many events in a batch were accepted, rejected or
// rate-limited, for the caller (the HTTP handler) to report back.
type Result struct {
	Accepted     int
	Quarantined  int
	RateLimited  int
	RetryAfterS  float64
}

// Processor owns the rate limiter and quarantine sink and turns
// accepted events into Reasoning Bank writes.
type Processor struct {
	bank       *bank.Bank
	limiter    *rateLimiter
	quarantine *quarantine
	scorer     mood.Scorer
}

// New constructs a Processor. quarantinePath is the on-disk
// invalid_events.jsonl location.
func New(b *bank.Bank, cfg config.IngestConfig, quarantinePath string) *Processor {
	return &Processor{
		bank:       b,
		limiter:    newRateLimiter(cfg.RateLimitPerMin, time.Minute),
		quarantine: newQuarantine(quarantinePath, cfg.QuarantineMaxLines, cfg.QuarantineMaxChars),
		scorer:     mood.NewKeywordScorer(),
	}
}

// ProcessBody parses body as either a single JSON object or
// newline-delimited JSON objects and applies each one in turn.
func (p *Processor) ProcessBody(ctx context.Context, body []byte, now time.Time) Result {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return Result{}
	}

	var lines []string
	if strings.HasPrefix(trimmed, "{") && !strings.Contains(trimmed, "}\n{") {
		lines = []string{trimmed}
	} else {
		sc := bufio.NewScanner(strings.NewReader(trimmed))
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			if l := strings.TrimSpace(sc.Text()); l != "" {
				lines = append(lines, l)
			}
		}
	}

	var res Result
	for _, line := range lines {
		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			res.Quarantined++
			p.quarantine.record(line, "invalid_json")
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			res.Quarantined++
			p.quarantine.record(raw, "unparseable_event")
			continue
		}
		if err := ev.validate(); err != nil {
			res.Quarantined++
			p.quarantine.record(raw, err.Error())
			continue
		}

		source := ev.Source
		if ok, retryAfter := p.limiter.allow(source, now); !ok {
			res.RateLimited++
			res.RetryAfterS = retryAfter
			continue
		}

		if err := p.apply(ctx, ev); err != nil {
			res.Quarantined++
			p.quarantine.record(raw, fmt.Sprintf("apply_failed: %v", err))
			continue
		}
		res.Accepted++
	}
	return res
}

// QuarantineStats reports the invalid-event file's current occupancy.
func (p *Processor) QuarantineStats() QuarantineStats { return p.quarantine.Stats() }

func (p *Processor) apply(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case "correction":
		_, err := p.bank.RecordCorrection(ctx, bank.Correction{
			CorrectionText: ev.CorrectionText,
			Domain:         ev.Domain,
			Reason:         ev.Reason,
		})
		return err
	case "preference":
		return p.bank.SavePreference(ctx, bank.Preference{Key: ev.Key, Value: ev.Value})
	default:
		result := sentiment.Analyze(ev.UserInput + " " + ev.AIResponse)
		state := p.scorer.Score(ev.UserInput, ev.AIResponse, nil, mood.State{})
		_, err := p.bank.SaveInteraction(ctx, bank.Interaction{
			UserInput:      ev.UserInput,
			AIResponse:     ev.AIResponse,
			Mood:           state.Label,
			SentimentScore: result.Score,
			Timestamp:      ev.Timestamp,
			SessionID:      ev.SessionID,
			Source:         ev.Source,
		})
		return err
	}
}
