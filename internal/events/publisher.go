// Package events publishes the portfolio engine's typed event stream to NATS
// as a best-effort side channel: a publish failure is logged, never raised,
// since no replay correctness depends on the subscriber seeing it.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/quantledger/backtester/internal/portfolio"
)

// Subject is the NATS subject every PortfolioEvent is published under.
const Subject = "backtester.portfolio.events"

// Payload is the wire shape of one published PortfolioEvent.
type Payload struct {
	Type       portfolio.EventType    `json:"type"`
	PositionID string                 `json:"position_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Reason     string                 `json:"reason,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
	RunID      string                 `json:"run_id,omitempty"`
}

// Publisher is a best-effort NATS publisher for portfolio events. A nil
// *Publisher is valid and every method is a no-op, so callers that run
// without a configured NATS URL do not need to branch on it.
type Publisher struct {
	nc    *nats.Conn
	runID string
}

// Connect dials the given NATS URL. On failure it logs a warning and returns
// a disabled Publisher rather than an error, since event publishing is
// optional instrumentation, not a replay dependency.
func Connect(url, runID string) *Publisher {
	if url == "" {
		return &Publisher{runID: runID}
	}
	nc, err := nats.Connect(url, nats.MaxReconnects(5), nats.ReconnectWait(2*time.Second))
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("events: failed to connect to nats, publishing disabled")
		return &Publisher{runID: runID}
	}
	log.Info().Str("url", url).Msg("events: connected to nats")
	return &Publisher{nc: nc, runID: runID}
}

// Publish sends one portfolio event. Errors are logged and swallowed.
func (p *Publisher) Publish(ev portfolio.Event) {
	if p == nil || p.nc == nil {
		return
	}
	body, err := json.Marshal(Payload{
		Type: ev.Type, PositionID: ev.PositionID.String(), Timestamp: ev.Timestamp,
		Reason: ev.Reason, Meta: ev.Meta, RunID: p.runID,
	})
	if err != nil {
		log.Warn().Err(err).Msg("events: failed to marshal portfolio event")
		return
	}
	if err := p.nc.Publish(Subject, body); err != nil {
		log.Warn().Err(err).Msg("events: failed to publish portfolio event")
	}
}

// PublishAll publishes a full event ledger at the end of a run, in order.
func (p *Publisher) PublishAll(events []portfolio.Event) {
	for _, ev := range events {
		p.Publish(ev)
	}
}

// Close drains and closes the underlying connection, if any.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("events: drain failed, closing immediately")
		p.nc.Close()
	}
}

// Healthy reports whether the publisher currently holds a live connection.
func (p *Publisher) Healthy() bool {
	return p != nil && p.nc != nil && p.nc.IsConnected()
}

func (p *Publisher) String() string {
	if p == nil || p.nc == nil {
		return "events.Publisher(disabled)"
	}
	return fmt.Sprintf("events.Publisher(%s)", p.nc.ConnectedUrl())
}

// Subscribe registers a handler for every Payload published on Subject. It
// returns an error if the publisher is disabled or the subscription fails;
// callers that want best-effort streaming should treat that as "no live
// events available" rather than a fatal condition.
func (p *Publisher) Subscribe(handler func(Payload)) (*nats.Subscription, error) {
	if p == nil || p.nc == nil {
		return nil, fmt.Errorf("events: publisher has no live nats connection")
	}
	return p.nc.Subscribe(Subject, func(msg *nats.Msg) {
		var pl Payload
		if err := json.Unmarshal(msg.Data, &pl); err != nil {
			log.Warn().Err(err).Msg("events: failed to unmarshal portfolio event")
			return
		}
		handler(pl)
	})
}
