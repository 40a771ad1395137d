package publisher

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	subjectCycle    = "transit.cycle"
	subjectDegraded = "transit.degraded"
)

type NATSPublisher struct {
	nc      *nats.Conn
	metrics PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url string, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("transit-ingest"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// CycleEvent is published after every ingestion cycle so downstream
// consumers can track feed health without scraping metrics.
type CycleEvent struct {
	StartedAt        time.Time `json:"startedAt"`
	Duration         float64   `json:"durationSeconds"`
	VehiclesAccepted int       `json:"vehiclesAccepted"`
	VehiclesRejected int       `json:"vehiclesRejected"`
	StationsAccepted int       `json:"stationsAccepted"`
	StationsRejected int       `json:"stationsRejected"`
	Degraded         bool      `json:"degraded"`
	Reason           string    `json:"reason,omitempty"`
}

func (p *NATSPublisher) PublishCycle(ev CycleEvent) error {
	return p.publish(subjectCycle, ev)
}

// PublishDegraded emits the same event on a dedicated subject so
// alerting consumers do not have to filter the full cycle stream.
func (p *NATSPublisher) PublishDegraded(ev CycleEvent) error {
	return p.publish(subjectDegraded, ev)
}

func (p *NATSPublisher) publish(subject string, ev CycleEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}
