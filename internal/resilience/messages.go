package resilience

import (
	"strings"
	"sync"

	"github.com/tournevent/shiprouter/pkg/shipper"
)

var classMessages = map[shipper.ErrorClass]string{
	shipper.ClassCarrierTimeout:       "The carrier took too long to respond. We will retry automatically.",
	shipper.ClassCarrierUnavailable:   "The carrier is temporarily unavailable. We will retry automatically.",
	shipper.ClassRateLimitExceeded:    "The carrier is receiving too many requests. We will retry shortly.",
	shipper.ClassInvalidAddress:       "The shipping address is invalid. Please correct it and try again.",
	shipper.ClassPOBoxNotSupported:    "This carrier cannot deliver to PO Boxes. Please provide a street address.",
	shipper.ClassCoverageNotAvailable: "The carrier does not deliver to this destination.",
}

// finalMessages replace class messages that promise a retry when the error
// is not retryable.
var finalMessages = map[shipper.ErrorClass]string{
	shipper.ClassCarrierTimeout:     "The carrier took too long to respond. Please try again later.",
	shipper.ClassCarrierUnavailable: "No carrier can ship this order right now. Please try again later or contact support.",
	shipper.ClassRateLimitExceeded:  "The carrier is receiving too many requests. Please try again later.",
}

const genericMessage = "Something went wrong while contacting the carrier."

const (
	msgAllocating = "The carrier is still assigning a tracking number. We will retry automatically."
	msgAddress    = "The carrier could not read the shipping address. Please check the street, city and postal code."
	msgPOBox      = "This carrier cannot deliver to PO Boxes. Please provide a street address."
	msgCoverage   = "The carrier does not deliver to this postal code. Please choose another shipping option."
)

type fragment struct {
	carrier string
	text    string
	message string
}

// Translator turns StandardizedErrors into merchant-facing text. Carrier
// specific codes take precedence over message fragments, which take
// precedence over class messages.
type Translator struct {
	mu        sync.RWMutex
	codes     map[string]string
	fragments []fragment
}

// NewTranslator creates a Translator with the built-in carrier codes and
// fragments.
func NewTranslator() *Translator {
	t := &Translator{codes: make(map[string]string)}
	t.Register("discount", "1004", msgAddress)
	t.Register("discount", "1010", msgPOBox)
	t.Register("discount", "1021", msgCoverage)
	t.Register("discount", "1032", msgAllocating)

	t.RegisterFragment("discount", "tracking number allocation", msgAllocating)
	t.RegisterFragment("discount", "地址格式", msgAddress)
	t.RegisterFragment("discount", "邮政信箱", msgPOBox)
	t.RegisterFragment("discount", "不在服务范围", msgCoverage)
	t.RegisterFragment("", "po box", msgPOBox)
	t.RegisterFragment("", "p.o. box", msgPOBox)
	t.RegisterFragment("", "address format", msgAddress)
	t.RegisterFragment("", "out of service area", msgCoverage)
	t.RegisterFragment("", "not serviceable", msgCoverage)
	return t
}

// Register adds a message for one carrier code.
func (t *Translator) Register(carrier, code, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.codes[carrier+"/"+code] = message
}

// RegisterFragment adds a message for carrier errors whose text contains
// text, case-insensitively. An empty carrier matches every carrier.
func (t *Translator) RegisterFragment(carrier, text, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fragments = append(t.fragments, fragment{carrier: carrier, text: strings.ToLower(text), message: message})
}

// Message returns the merchant text for err. The raw carrier message is
// used only when neither the code nor the class has a translation.
func (t *Translator) Message(err *shipper.StandardizedError) string {
	if err == nil {
		return ""
	}
	if msg, ok := t.lookup(err); ok {
		return msg
	}
	if !err.Retryable {
		if msg, ok := finalMessages[err.Class]; ok {
			return msg
		}
	}
	if msg, ok := classMessages[err.Class]; ok {
		return msg
	}
	if err.Message != "" {
		return err.Message
	}
	return genericMessage
}

func (t *Translator) lookup(err *shipper.StandardizedError) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err.CarrierCode != "" {
		if msg, ok := t.codes[err.Carrier+"/"+err.CarrierCode]; ok {
			return msg, true
		}
	}
	raw := strings.ToLower(err.Message)
	if raw == "" {
		return "", false
	}
	for _, f := range t.fragments {
		if (f.carrier == "" || f.carrier == err.Carrier) && strings.Contains(raw, f.text) {
			return f.message, true
		}
	}
	return "", false
}

var defaultTranslator = NewTranslator()

// MerchantMessage translates err with the built-in translations.
func MerchantMessage(err *shipper.StandardizedError) string {
	return defaultTranslator.Message(err)
}
