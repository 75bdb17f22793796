package sfmmodels

import (
	"encoding/json"
	"time"
)

// InboundKind says which device topic a forwarded message arrived on
type InboundKind string

const (
	InboundTelemetry InboundKind = "telemetry"
	InboundStatus    InboundKind = "status"
	InboundAck       InboundKind = "ack"
)

// InboundMessage is one device message as forwarded by the ingestor
type InboundMessage struct {
	ExternalID string          `json:"externalId"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// InboundBatch is the body of the internal ingest endpoints. Messages are
// in broker arrival order and are processed in that order.
type InboundBatch struct {
	Messages []InboundMessage `json:"messages" binding:"required"`
}

// BatchResult reports per-batch outcome counts back to the ingestor
type BatchResult struct {
	Received  int `json:"received"`
	Processed int `json:"processed"`
	Dropped   int `json:"dropped"`
}
