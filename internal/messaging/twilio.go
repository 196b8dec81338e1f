package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// ValidateTwilioSignature checks X-Twilio-Signature against webhookURL. Twilio
// signs the URL exactly as configured in the console, which behind a proxy may
// or may not carry the default port, so both forms are accepted.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	for _, candidate := range signatureURLs(webhookURL) {
		expected := computeSignature(buildSignaturePayload(candidate, r.PostForm), authToken)
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return true
		}
	}
	return false
}

func signatureURLs(raw string) []string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return []string{raw}
	}
	defaultPort := map[string]string{"https": "443", "http": "80"}[u.Scheme]
	if defaultPort == "" {
		return []string{raw}
	}
	alt := *u
	if u.Port() == defaultPort {
		alt.Host = u.Hostname()
	} else if u.Port() == "" {
		alt.Host = u.Hostname() + ":" + defaultPort
	} else {
		return []string{raw}
	}
	return []string{raw, alt.String()}
}

// buildSignaturePayload is the URL followed by every key/value pair, keys sorted.
func buildSignaturePayload(url string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(url)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}
	return payload.String()
}

func computeSignature(data, key string) string {
	h := hmac.New(sha1.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// TwilioWebhookRequest is an inbound WhatsApp message. Quick-reply buttons
// arrive as ButtonText/ButtonPayload.
type TwilioWebhookRequest struct {
	MessageSid    string
	AccountSid    string
	From          string
	To            string
	Body          string
	ProfileName   string
	WaID          string
	ButtonText    string
	ButtonPayload string
	NumMedia      int
}

// Text is what the client wrote or the label of the button they tapped.
func (t *TwilioWebhookRequest) Text() string {
	if t.Body != "" {
		return t.Body
	}
	return t.ButtonText
}

// MediaOnly reports a photo, voice note or document with no text.
func (t *TwilioWebhookRequest) MediaOnly() bool {
	return t.NumMedia > 0 && t.Text() == ""
}

func ParseTwilioWebhook(r *http.Request) (*TwilioWebhookRequest, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("messaging: parse twilio form: %w", err)
	}
	numMedia := 0
	if raw := strings.TrimSpace(r.FormValue("NumMedia")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("messaging: invalid NumMedia %q", raw)
		}
		numMedia = n
	}
	return &TwilioWebhookRequest{
		MessageSid:    r.FormValue("MessageSid"),
		AccountSid:    r.FormValue("AccountSid"),
		From:          r.FormValue("From"),
		To:            r.FormValue("To"),
		Body:          strings.TrimSpace(r.FormValue("Body")),
		ProfileName:   strings.TrimSpace(r.FormValue("ProfileName")),
		WaID:          r.FormValue("WaId"),
		ButtonText:    strings.TrimSpace(r.FormValue("ButtonText")),
		ButtonPayload: r.FormValue("ButtonPayload"),
		NumMedia:      numMedia,
	}, nil
}
