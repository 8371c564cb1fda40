package pac

import (
	"encoding/json"
	"strings"
)

// Classification is the interpreted outcome of a PAC response. Transport and
// schema failures never reach the classifier; they surface as errors upstream.
type Classification string

const (
	ClassificationAuthorized Classification = "AUTHORIZED"
	ClassificationRejected   Classification = "REJECTED"
)

// ParseResponse decodes and schema-validates a PAC response body. A body that
// is not a JSON object, lacks the data array, or carries records without a
// result code fails with a SchemaError.
func ParseResponse(body []byte) (*Response, error) {
	var probe struct {
		Status  *int              `json:"status"`
		Message string            `json:"message"`
		Data    *[]json.RawMessage `json:"data"`
		Errors  []ErrorRecord     `json:"errors"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, &SchemaError{Reason: "body is not valid JSON: " + err.Error()}
	}
	if probe.Data == nil {
		return nil, &SchemaError{Reason: "missing data array"}
	}
	resp := &Response{Message: probe.Message, Errors: probe.Errors}
	if probe.Status != nil {
		resp.Status = *probe.Status
	}
	for _, raw := range *probe.Data {
		var rec DataRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &SchemaError{Reason: "malformed data record: " + err.Error()}
		}
		if strings.TrimSpace(rec.Codigo) == "" {
			return nil, &SchemaError{Reason: "data record missing result code"}
		}
		resp.Data = append(resp.Data, rec)
	}
	return resp, nil
}

// Classify interprets a schema-valid response. AUTHORIZED iff at least one
// data record carries a whitelisted success code; an empty data array or only
// non-whitelisted codes is a business rejection.
func Classify(resp *Response, successCodes []string) Classification {
	if resp == nil {
		return ClassificationRejected
	}
	for _, rec := range resp.Data {
		if isSuccessCode(rec.Codigo, successCodes) {
			return ClassificationAuthorized
		}
	}
	return ClassificationRejected
}

// Authorization carries the fiscal identifiers extracted from an authorized
// response.
type Authorization struct {
	CUFE      string
	URLCUFE   string
	SignedXML string
}

// ExtractAuthorization returns the fiscal data of the first successful record,
// or nil when the response is not usable. A malformed "successful" response
// degrades to nil, which callers must treat as a rejection.
func ExtractAuthorization(resp *Response, successCodes []string) *Authorization {
	if resp == nil {
		return nil
	}
	for _, rec := range resp.Data {
		if !isSuccessCode(rec.Codigo, successCodes) {
			continue
		}
		if rec.Protocolo == nil || strings.TrimSpace(rec.Protocolo.CUFE) == "" {
			return nil
		}
		return &Authorization{
			CUFE:      rec.Protocolo.CUFE,
			URLCUFE:   rec.Protocolo.URLCUFE,
			SignedXML: rec.Protocolo.XMLFE,
		}
	}
	return nil
}

// ExtractErrorDetail builds a best-effort human-readable error string from
// whichever part of the response is populated, in priority order: explicit
// error list, per-record message, lot-level message, top-level status message.
// It never fails; an empty response yields a generic fallback.
func ExtractErrorDetail(resp *Response) string {
	if resp == nil {
		return "unknown PAC error"
	}
	if len(resp.Errors) > 0 {
		parts := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e.Codigo != "" {
				parts = append(parts, e.Codigo+": "+e.Mensaje)
			} else {
				parts = append(parts, e.Mensaje)
			}
		}
		return strings.Join(parts, "; ")
	}
	for _, rec := range resp.Data {
		if strings.TrimSpace(rec.Mensaje) != "" {
			return rec.Mensaje
		}
	}
	for _, rec := range resp.Data {
		if strings.TrimSpace(rec.Lote.Mensaje) != "" {
			return rec.Lote.Mensaje
		}
	}
	if strings.TrimSpace(resp.Message) != "" {
		return resp.Message
	}
	return "unknown PAC error"
}

func isSuccessCode(code string, successCodes []string) bool {
	for _, c := range successCodes {
		if code == c {
			return true
		}
	}
	return false
}
