package status

import (
	"encoding/json"

	"github.com/wattline/wattline-core/internal/infrastructure/logging"
	"github.com/wattline/wattline-core/internal/upload"
)

// Broker is the publish surface the Publisher needs.
//
// *Client satisfies it; tests substitute recording fakes.
type Broker interface {
	PublishRetained(topic string, payload []byte) error
}

// Publisher turns uploader status updates into retained MQTT messages.
//
// It is wired into the upload loop as a StatusSink; every state change
// replaces the retained payload on that uploader's topic. Failures are
// logged and dropped so a broker outage never stalls uploading.
type Publisher struct {
	broker Broker
	logger *logging.Logger
}

// NewPublisher creates a status publisher.
//
// Parameters:
//   - broker: Publish surface, usually *Client
//   - logger: Structured logger; nil uses the default
//
// Returns:
//   - *Publisher: Publisher ready for use
func NewPublisher(broker Broker, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		broker: broker,
		logger: logger.With("component", "status"),
	}
}

// Sink returns the StatusSink to hand to upload.Run.
func (p *Publisher) Sink() upload.StatusSink {
	return func(id string, st upload.Status) {
		p.publish(id, st)
	}
}

// publish marshals and publishes one status update.
func (p *Publisher) publish(id string, st upload.Status) {
	payload, err := json.Marshal(st)
	if err != nil {
		p.logger.Error("marshalling status", "uploader", id, "error", err)
		return
	}

	topic := Topics{}.Uploader(id)
	if err := p.broker.PublishRetained(topic, payload); err != nil {
		p.logger.Warn("publishing status", "uploader", id, "topic", topic, "error", err)
	}
}
