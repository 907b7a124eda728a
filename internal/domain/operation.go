package domain

import "time"

// Operation is the kind of exchange a QR code stands for.
type Operation string

const (
	OpSignup       Operation = "signup"
	OpLogin        Operation = "login"
	OpCheckout     Operation = "checkout"
	OpRegistration Operation = "reg"
)

// Default QR time-to-live per operation. These must stay in sync with the
// provider API defaults.
var defaultQRTTL = map[Operation]time.Duration{
	OpSignup:       120 * time.Second,
	OpLogin:        60 * time.Second,
	OpCheckout:     300 * time.Second,
	OpRegistration: 30 * time.Second,
}

func (o Operation) Valid() bool {
	_, ok := defaultQRTTL[o]
	return ok
}

// DefaultTTL returns the provider default QR lifetime for the operation.
func (o Operation) DefaultTTL() time.Duration {
	return defaultQRTTL[o]
}

// Message is a configurable mobile-app message: either a static value (a
// plain string or a structured object) or a generator resolved at call time.
// The zero value means "not configured".
type Message struct {
	Value interface{}
	Func  func() interface{}
}

// Resolve returns the message content and whether one is configured.
// A generator returning nil counts as not configured.
func (m Message) Resolve() (interface{}, bool) {
	if m.Func != nil {
		v := m.Func()
		return v, v != nil
	}
	return m.Value, m.Value != nil
}

// QRRequest describes one configured QR code tag: which operation it stands
// for and the per-tag overrides sent to the provider at mint time.
type QRRequest struct {
	Operation   Operation
	QRTTL       time.Duration // 0 means the operation default
	CallbackURL string        // push URL override for the mobile app
	Display     Message       // shown on the phone during data selection (signup/checkout only)
	Confirm     Message       // shown on the phone after a successful transfer
}

// TTL returns the effective QR lifetime for this descriptor.
func (q QRRequest) TTL() time.Duration {
	if q.QRTTL > 0 {
		return q.QRTTL
	}
	return q.Operation.DefaultTTL()
}
