package trcagent

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Message is the text, and optional detail, describing a trace entry.
type Message struct {
	Text   string
	Detail map[string]any
}

// MessageSupplier produces the message for a trace entry. A supplier is
// retained from the moment its entry is started until the transaction
// completes, and is only invoked if the entry is actually stored. Suppliers
// should therefore be cheap to create, and defer any expensive formatting.
type MessageSupplier interface {
	Message() Message
}

// MessageSupplierFunc adapts a function to a MessageSupplier.
type MessageSupplierFunc func() Message

// Message implements MessageSupplier.
func (f MessageSupplierFunc) Message() Message { return f() }

// Messagef returns a supplier which evaluates the format string and arguments
// lazily, the first time the message is requested. Arguments are captured by
// reference, and must be safe to read at any point in the future.
func Messagef(format string, args ...any) MessageSupplier {
	z := &lazyMessage{format: format, args: args}
	z.text.Store(zeroNullString)
	return z
}

type lazyMessage struct {
	format string
	args   []any
	text   atomic.Value
}

type nullString struct {
	valid bool
	value string
}

var zeroNullString nullString

func (z *lazyMessage) Message() Message {
	// If we already have a valid string, return it.
	ns := z.text.Load().(nullString)
	if ns.valid {
		return Message{Text: ns.value}
	}

	// If we don't, do the formatting work and try to swap it in.
	ns = nullString{valid: true, value: fmt.Sprintf(z.format, z.args...)}
	if z.text.CompareAndSwap(zeroNullString, ns) {
		return Message{Text: ns.value}
	}

	// If that didn't work, take the value that snuck in.
	return Message{Text: z.text.Load().(nullString).value}
}

// DetailMessage is a supplier with static text and mutable detail. It's useful
// when information about an entry, like a return value or a row count, only
// becomes available after the entry has started.
//
// DetailMessage is safe for concurrent use.
type DetailMessage struct {
	mtx    sync.Mutex
	text   string
	detail map[string]any
}

// NewDetailMessage returns a supplier with the given text and no detail.
func NewDetailMessage(text string) *DetailMessage {
	return &DetailMessage{text: text}
}

// Set the detail key to the given value, overwriting any previous value.
func (m *DetailMessage) Set(key string, val any) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.detail == nil {
		m.detail = map[string]any{}
	}
	m.detail[key] = val
}

// Message implements MessageSupplier.
func (m *DetailMessage) Message() Message {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	var detail map[string]any
	if len(m.detail) > 0 {
		detail = make(map[string]any, len(m.detail))
		for k, v := range m.detail {
			detail[k] = v
		}
	}

	return Message{Text: m.text, Detail: detail}
}

// supplyMessage calls the supplier, tolerating nil suppliers and panicking
// suppliers, as both come from instrumented code outside of our control.
func supplyMessage(ms MessageSupplier) (msg Message) {
	if ms == nil {
		return Message{}
	}

	defer func() {
		if x := recover(); x != nil {
			msg = Message{Text: fmt.Sprintf("(message supplier panic: %v)", x)}
		}
	}()

	return ms.Message()
}
