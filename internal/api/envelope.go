package api

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/qstation/qstation/internal/log"
)

// Envelope is the canonical decoding of a vendor response, whether the
// firmware answered in JSON or in the legacy XML dialect. Code 0 signals
// success; anything else carries an optional Reason.
type Envelope struct {
	Code   int
	Reason string
	SID    string
	User   string
	Total  int

	// Payload is the full decoded body, kept for the task normalizer.
	Payload map[string]any
}

// OK reports whether the envelope signals vendor success.
func (e *Envelope) OK() bool { return e.Code == 0 }

// APIError is a protocol-level failure: the transport worked but the vendor
// envelope carried a non-zero error code.
type APIError struct {
	Op     string
	Code   int
	Reason string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%d): %s", e.Op, e.Code, e.Reason)
	}
	return fmt.Sprintf("%s (%d)", e.Op, e.Code)
}

// Duplicate reports whether the failure means the task already exists.
func (e *APIError) Duplicate() bool {
	reason := strings.ToLower(e.Reason)
	return strings.Contains(reason, "duplicate") || strings.Contains(reason, "exist")
}

// Unsupported reports whether the endpoint is absent on this firmware.
func (e *APIError) Unsupported() bool {
	return e.Code == 2 || strings.Contains(strings.ToLower(e.Reason), "no such api")
}

// newAPIError builds the tagged protocol error for a failed envelope.
func newAPIError(op string, env *Envelope) *APIError {
	return &APIError{Op: op, Code: env.Code, Reason: env.Reason}
}

// decodeEnvelope normalizes a response body into an Envelope. JSON is tried
// first unless the content type says XML. Bodies that parse as neither come
// back as Code -1 so callers see a protocol error instead of a panic.
func decodeEnvelope(contentType string, body io.Reader) *Envelope {
	data, err := io.ReadAll(body)
	if err != nil {
		log.Debug("api").Err(err).Msg("failed to read response body")
		return &Envelope{Code: -1}
	}

	var payload map[string]any
	if isXMLContent(contentType, data) {
		payload = xmlToMap(data)
	} else if err := json.Unmarshal(data, &payload); err != nil {
		// Some firmwares send JSON with a text/html content type; some send
		// XML with no content type at all. Try the other decoding.
		payload = xmlToMap(data)
	}
	if len(payload) == 0 {
		return &Envelope{Code: -1}
	}
	return envelopeFromMap(payload)
}

func envelopeFromMap(payload map[string]any) *Envelope {
	env := &Envelope{Code: -1, Payload: payload}
	if code, ok := numField(payload, "error"); ok {
		env.Code = int(code)
	}
	env.Reason = strings.TrimSpace(strField(payload, "reason"))
	env.SID = strField(payload, "sid")
	env.User = strField(payload, "user")
	if total, ok := numField(payload, "total"); ok {
		env.Total = int(total)
	}
	return env
}

func isXMLContent(contentType string, data []byte) bool {
	if strings.Contains(contentType, "xml") {
		return true
	}
	trimmed := strings.TrimSpace(string(data))
	return strings.HasPrefix(trimmed, "<")
}

// xmlToMap converts an XML document into the nested-map shape JSON decoding
// produces, so both dialects flow through the same envelope extraction.
// Element text lands under "#text"; repeated siblings become slices. Parse
// errors are logged and yield an empty map.
func xmlToMap(data []byte) map[string]any {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	doc, err := decodeXMLElement(decoder, nil)
	if err != nil {
		log.Debug("api").Err(err).Msg("XML parse error")
		return map[string]any{}
	}
	// The interesting fields live inside the single document root element.
	if len(doc) == 1 {
		for _, v := range doc {
			if root, ok := v.(map[string]any); ok {
				return root
			}
		}
	}
	return doc
}

func decodeXMLElement(decoder *xml.Decoder, start *xml.StartElement) (map[string]any, error) {
	result := map[string]any{}
	var text strings.Builder

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			if start == nil {
				return result, nil
			}
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeXMLElement(decoder, &t)
			if err != nil {
				return nil, err
			}
			key := t.Name.Local
			switch existing := result[key].(type) {
			case nil:
				result[key] = flattenXMLValue(child)
			case []any:
				result[key] = append(existing, flattenXMLValue(child))
			default:
				result[key] = []any{existing, flattenXMLValue(child)}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if trimmed := strings.TrimSpace(text.String()); trimmed != "" {
				result["#text"] = trimmed
			}
			return result, nil
		}
	}
}

// flattenXMLValue collapses text-only elements to their string content so
// <sid>abc</sid> reads as "abc" rather than {#text: "abc"}.
func flattenXMLValue(node map[string]any) any {
	if len(node) == 1 {
		if text, ok := node["#text"].(string); ok {
			return text
		}
	}
	return node
}

func strField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any:
		if text, ok := v["#text"].(string); ok {
			return text
		}
	}
	return ""
}

func numField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return n, true
		}
	case map[string]any:
		if text, ok := v["#text"].(string); ok {
			if n, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
