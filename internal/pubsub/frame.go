package pubsub

import "encoding/json"

// Websocket frame operations
const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opPublish     = "publish"
	opMessage     = "message" // hub to client delivery
	opError       = "error"
)

// frame is the JSON shape of every websocket message
type frame struct {
	Op    string          `json:"op"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}
