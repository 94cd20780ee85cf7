package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/comalice/scxmlrt/model"
)

// HTTPProcessor implements the W3C SCXML C.2 BasicHTTP Event I/O Processor:
// <send> to an http(s) target POSTs the event's data as a form-encoded,
// text/plain or JSON body (see encodeBody); a successful response is turned into a new event and delivered
// back through Deliver. Grounded on the teacher-adjacent hostapi package's
// doHTTPRequest, translated from a JS-callable helper into a <send> target
// implementation.
type HTTPProcessor struct {
	client  *http.Client
	deliver func(sessionID string, ev model.Event)
}

// NewHTTPProcessor creates an HTTPProcessor with the given client timeout.
// deliver is called with the response event once the request completes.
func NewHTTPProcessor(timeout time.Duration, deliver func(sessionID string, ev model.Event)) *HTTPProcessor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProcessor{
		client:  &http.Client{Timeout: timeout},
		deliver: deliver,
	}
}

// Send POSTs ev to target on behalf of sessionID, per W3C SCXML C.2.1. The
// body is built by encodeBody: form and JSON bodies carry the event name in
// a "_scxmleventname" field, while string <content> is sent verbatim as
// text/plain with no event-name field.
func (p *HTTPProcessor) Send(ctx context.Context, sessionID, target string, ev model.Event) {
	go func() {
		resultEvent := p.do(ctx, target, ev)
		p.deliver(sessionID, resultEvent)
	}()
}

func (p *HTTPProcessor) do(ctx context.Context, target string, ev model.Event) model.Event {
	body, contentType, err := encodeBody(ev)
	if err != nil {
		return model.NewErrorEvent(model.ErrorCommunication, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return model.NewErrorEvent(model.ErrorCommunication, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return model.NewErrorEvent(model.ErrorCommunication, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewErrorEvent(model.ErrorCommunication, err)
	}
	if resp.StatusCode >= 400 {
		return model.NewErrorEvent(model.ErrorCommunication, fmt.Errorf("http status %d", resp.StatusCode))
	}

	reply, err := decodeResponse(respBody)
	if err != nil {
		return model.NewErrorEvent(model.ErrorCommunication, err)
	}
	return reply
}

// encodeBody builds the outgoing request body, following W3C SCXML C.2/spec
// §6's content-vs-param distinction rather than collapsing both to the same
// shape: a <send> built from <param>/namelist (ev.Params non-nil) is encoded
// as application/x-www-form-urlencoded, each name emitted once per value so
// a name repeated across multiple <param> elements produces repeated form
// keys rather than one aggregated field; a <send> built from <content>
// (ev.Params nil) is sent verbatim as text/plain when its value is a string,
// since the processor must not reinterpret <content> text. A non-string
// <content> value or the no-payload case falls back to JSON/form encoding,
// matching how hostapi's doHTTPRequest branches on the payload's shape.
func encodeBody(ev model.Event) ([]byte, string, error) {
	if ev.Params != nil {
		form := url.Values{}
		form.Set("_scxmleventname", ev.Name)
		for name, values := range ev.Params {
			for _, v := range values {
				form.Add(name, fmt.Sprint(v))
			}
		}
		return []byte(form.Encode()), "application/x-www-form-urlencoded", nil
	}

	switch v := ev.Data.(type) {
	case nil:
		form := url.Values{}
		form.Set("_scxmleventname", ev.Name)
		return []byte(form.Encode()), "application/x-www-form-urlencoded", nil
	case string:
		return []byte(v), "text/plain", nil
	default:
		payload := map[string]any{"_scxmleventname": ev.Name, "data": v}
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, "", fmt.Errorf("encoding event data: %w", err)
		}
		return b, "application/json", nil
	}
}

// decodeResponse turns an HTTP response body into an event. A JSON object
// with a "name" field uses it as the event name; a JSON body with no "name"
// field falls back to "HTTP.POST" as the event name (the receiving side
// derives the event name from the HTTP method), per spec.md §6. An empty
// body is treated the same way: a bare acknowledgement with no event name.
// A non-empty body that fails to parse as JSON is a processor error
// (error.communication), per spec.md §9's resolution of this open question.
func decodeResponse(body []byte) (model.Event, error) {
	if len(bytesTrimSpace(body)) == 0 {
		return model.Event{Name: "HTTP.POST", Kind: model.KindExternal}, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.Event{}, fmt.Errorf("decoding HTTP response body: %w", err)
	}
	name, _ := payload["name"].(string)
	if name == "" {
		return model.Event{Name: "HTTP.POST", Kind: model.KindExternal, Data: payload}, nil
	}
	return model.Event{Name: name, Kind: model.KindExternal, Data: payload["data"]}, nil
}

func bytesTrimSpace(b []byte) []byte {
	return bytes.TrimSpace(b)
}
