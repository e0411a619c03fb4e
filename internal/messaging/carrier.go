package messaging

import "github.com/segmentio/kafka-go"

// Header names used on every message.
const (
	HeaderRoutingKey         = "x-routing-key"
	HeaderEventType          = "x-event-type"
	HeaderDeathReason        = "x-death-reason"
	HeaderDeadLetterExchange = "x-dead-letter-exchange"
	HeaderOriginalExchange   = "x-original-exchange"
	HeaderOriginalQueue      = "x-original-queue"
	HeaderRedeliveries       = "x-redelivery-count"
)

// MessageCarrier adapts kafka message headers to the OTel TextMapCarrier
// interface.
type MessageCarrier struct {
	msg *kafka.Message
}

func NewMessageCarrier(msg *kafka.Message) *MessageCarrier {
	return &MessageCarrier{msg: msg}
}

func (c *MessageCarrier) Get(key string) string {
	return headerValue(c.msg, key)
}

func (c *MessageCarrier) Set(key, value string) {
	setHeader(c.msg, key, value)
}

func (c *MessageCarrier) Keys() []string {
	keys := make([]string, len(c.msg.Headers))
	for i, h := range c.msg.Headers {
		keys[i] = h.Key
	}
	return keys
}

func headerValue(msg *kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func setHeader(msg *kafka.Message, key, value string) {
	for i, h := range msg.Headers {
		if h.Key == key {
			msg.Headers[i].Value = []byte(value)
			return
		}
	}
	msg.Headers = append(msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}
