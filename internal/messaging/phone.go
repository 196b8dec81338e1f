package messaging

import (
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used for numbers written without a country code unless
// SetDefaultRegion overrides it.
const DefaultRegion = "MX"

var region atomic.Value

// SetDefaultRegion changes the region used by NormalizePhone. Empty values
// restore DefaultRegion.
func SetDefaultRegion(code string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = DefaultRegion
	}
	region.Store(code)
}

func currentRegion() string {
	if code, ok := region.Load().(string); ok {
		return code
	}
	return DefaultRegion
}

const whatsappPrefix = "whatsapp:"

var nonDigits = regexp.MustCompile(`\D`)

// NormalizePhone strips the WhatsApp address prefix and formats value as
// E.164. Numbers the metadata does not recognise keep their digits.
func NormalizePhone(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= len(whatsappPrefix) && strings.EqualFold(value[:len(whatsappPrefix)], whatsappPrefix) {
		value = strings.TrimSpace(value[len(whatsappPrefix):])
	}
	if value == "" {
		return ""
	}

	number, err := phonenumbers.Parse(value, currentRegion())
	if err == nil && phonenumbers.IsValidNumber(number) {
		return phonenumbers.Format(number, phonenumbers.E164)
	}
	digits := nonDigits.ReplaceAllString(value, "")
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// WhatsAppAddress is the Twilio address form of an E.164 phone.
func WhatsAppAddress(phone string) string {
	if strings.HasPrefix(phone, whatsappPrefix) {
		return phone
	}
	return whatsappPrefix + phone
}
