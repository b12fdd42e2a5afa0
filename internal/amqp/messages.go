package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Message types, carried in the AMQP type property.
const (
	TypeScanRequested = "scan_requested"
	TypeConnectivity  = "connectivity"
)

// ScanRequestedMessage announces a receipt waiting for a scan. The worker
// reads the transaction from its own view; only the id travels.
type ScanRequestedMessage struct {
	TransactionID string    `json:"transactionId"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewScanRequestedMessage creates a scan request for transactionID
func NewScanRequestedMessage(transactionID string) *ScanRequestedMessage {
	return &ScanRequestedMessage{
		TransactionID: transactionID,
		Timestamp:     time.Now(),
	}
}

// ConnectivityMessage reports that the API process lost or regained the remote store.
type ConnectivityMessage struct {
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

// NewConnectivityMessage creates a connectivity change message
func NewConnectivityMessage(online bool) *ConnectivityMessage {
	return &ConnectivityMessage{
		Online:    online,
		Timestamp: time.Now(),
	}
}

// ScanRequestedMessageFromJSON decodes a scan request body
func ScanRequestedMessageFromJSON(data []byte) (*ScanRequestedMessage, error) {
	var msg ScanRequestedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.TransactionID == "" {
		return nil, fmt.Errorf("scan request without transaction id")
	}
	return &msg, nil
}

// ConnectivityMessageFromJSON decodes a connectivity body
func ConnectivityMessageFromJSON(data []byte) (*ConnectivityMessage, error) {
	var msg ConnectivityMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Handler receives decoded messages. A nil callback acks and drops its type.
type Handler struct {
	ScanRequested func(context.Context, *ScanRequestedMessage) error
	Connectivity  func(context.Context, *ConnectivityMessage) error
}
