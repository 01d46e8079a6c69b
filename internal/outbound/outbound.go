// Package outbound decodes pushed change notifications.
//
// Two payload forms are accepted: the SOAP outbound-message envelope sent
// by a workflow rule, and a JSON document of the form
// {"organizationId": "...", "records": [{...}]}.
package outbound

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/oppsync/internal/types"
)

// ErrDecode marks a payload that could not be decoded. It is terminal:
// resending the same bytes cannot succeed.
var ErrDecode = errors.New("malformed notification payload")

// Format identifies the wire form of a payload.
type Format string

const (
	FormatSOAP Format = "soap"
	FormatJSON Format = "json"
)

// NumericFields lists the fields whose string values are converted to
// float64 on decode. Everything else stays a string so that a numeric
// looking Name is not mangled.
var NumericFields = map[string]bool{
	types.FieldAmount:            true,
	types.FieldProbability:       true,
	types.FieldNumberOfEmployees: true,
	"ExpectedRevenue":            true,
	"TotalOpportunityQuantity":   true,
}

// Message is one decoded delivery.
type Message struct {
	Format         Format
	OrganizationID string
	ActionID       string
	// NotificationIDs parallels Records for SOAP deliveries.
	NotificationIDs []string
	Records         []types.Record
}

// Detect reports the wire form of payload from contentType, falling
// back to sniffing the first non-space byte.
func Detect(payload []byte, contentType string) Format {
	switch {
	case strings.Contains(contentType, "json"):
		return FormatJSON
	case strings.Contains(contentType, "xml"):
		return FormatSOAP
	}
	if trimmed := bytes.TrimSpace(payload); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatSOAP
}

// Decode decodes payload in the form Detect reports.
func Decode(payload []byte, contentType string) (*Message, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if Detect(trimmed, contentType) == FormatJSON {
		return DecodeJSON(trimmed)
	}
	return DecodeSOAP(trimmed)
}

type envelope struct {
	Body struct {
		Notifications *notifications `xml:"notifications"`
	} `xml:"Body"`
}

type notifications struct {
	OrganizationID string         `xml:"OrganizationId"`
	ActionID       string         `xml:"ActionId"`
	Notification   []notification `xml:"Notification"`
}

type notification struct {
	ID      string   `xml:"Id"`
	SObject *sobject `xml:"sObject"`
}

type sobject struct {
	Fields []field `xml:",any"`
}

type field struct {
	XMLName xml.Name
	Nil     string `xml:"http://www.w3.org/2001/XMLSchema-instance nil,attr"`
	Value   string `xml:",chardata"`
}

// DecodeSOAP decodes a SOAP outbound-message envelope.
func DecodeSOAP(payload []byte) (*Message, error) {
	var env envelope
	if err := xml.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	n := env.Body.Notifications
	if n == nil {
		return nil, fmt.Errorf("%w: no notifications element", ErrDecode)
	}

	msg := &Message{Format: FormatSOAP, OrganizationID: n.OrganizationID, ActionID: n.ActionID}
	for i, note := range n.Notification {
		if note.SObject == nil {
			return nil, fmt.Errorf("%w: notification %d has no sObject", ErrDecode, i)
		}
		fields := make(map[string]any, len(note.SObject.Fields))
		for _, f := range note.SObject.Fields {
			if f.Nil == "true" {
				fields[f.XMLName.Local] = nil
				continue
			}
			fields[f.XMLName.Local] = strings.TrimSpace(f.Value)
		}
		r, err := toRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: notification %d: %v", ErrDecode, i, err)
		}
		msg.NotificationIDs = append(msg.NotificationIDs, note.ID)
		msg.Records = append(msg.Records, r)
	}
	return msg, nil
}

type jsonMessage struct {
	OrganizationID string           `json:"organizationId"`
	Records        []map[string]any `json:"records"`
}

// DecodeJSON decodes the JSON push form.
func DecodeJSON(payload []byte) (*Message, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var jm jsonMessage
	if err := dec.Decode(&jm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if jm.Records == nil {
		return nil, fmt.Errorf("%w: missing records", ErrDecode)
	}

	msg := &Message{Format: FormatJSON, OrganizationID: jm.OrganizationID}
	for i, raw := range jm.Records {
		r, err := toRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrDecode, i, err)
		}
		msg.Records = append(msg.Records, r)
	}
	return msg, nil
}

// toRecord lifts Id and LastModifiedDate into the record header and
// normalizes numeric fields.
func toRecord(raw map[string]any) (types.Record, error) {
	r := types.Record{Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case types.FieldID:
			if v != nil {
				r.ID = fmt.Sprint(v)
			}
		case types.FieldLastModifiedDate:
			s, ok := v.(string)
			if !ok || s == "" {
				continue
			}
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return types.Record{}, fmt.Errorf("LastModifiedDate %q: %w", s, err)
			}
			r.LastModifiedDate = ts.UTC()
		default:
			r.Fields[k] = normalize(k, v)
		}
	}
	return r, nil
}

func normalize(name string, v any) any {
	switch val := v.(type) {
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case string:
		if NumericFields[name] {
			if f, ok := types.Number(val); ok {
				return f
			}
		}
	}
	return v
}

const ackTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
<soapenv:Body>
<notificationsResponse xmlns="http://soap.sforce.com/2005/09/outbound">
<Ack>%t</Ack>
</notificationsResponse>
</soapenv:Body>
</soapenv:Envelope>
`

// Ack renders the notificationsResponse acknowledgement. A false ack
// makes the sender queue the message for redelivery.
func Ack(ok bool) []byte {
	return []byte(fmt.Sprintf(ackTemplate, ok))
}

// Fault renders a SOAP client fault carrying msg.
func Fault(msg string) []byte {
	var esc bytes.Buffer
	_ = xml.EscapeText(&esc, []byte(msg))
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
<soapenv:Body>
<soapenv:Fault>
<faultcode>soapenv:Client</faultcode>
<faultstring>` + esc.String() + `</faultstring>
</soapenv:Fault>
</soapenv:Body>
</soapenv:Envelope>
`)
}
