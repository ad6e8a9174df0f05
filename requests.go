package supportchat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"

	"github.com/NeboLoop/supportchat-go/frame"
	"github.com/NeboLoop/supportchat-go/wire"
)

// ResponseHandler receives the server's response to a request. It runs on
// the conversation's dispatch queue.
type ResponseHandler = frame.Handler

// ButtonSelection is a tap on an automated-response button.
type ButtonSelection struct {
	Text           string
	Classification string
	// ParentSeq is the sequence number of the event carrying the button.
	ParentSeq int64
	Data      map[string]any
}

func (c *Conversation) send(kind wire.Request, h ResponseHandler) {
	if c.closed.Load() {
		c.logger.Debug("dropping request on closed conversation", "path", kind.Path())
		return
	}
	c.conn.Send(kind, h)
}

// SendTextMessage sends a chat message.
func (c *Conversation) SendTextMessage(text string, h ResponseHandler) {
	c.send(wire.SendTextMessage{Text: text}, h)
}

// SendPictureMessage sends a JPEG image of the given dimensions.
func (c *Conversation) SendPictureMessage(jpeg []byte, width, height int, h ResponseHandler) {
	c.send(wire.SendPictureMessage{
		MimeType:  "image/jpeg",
		FileSize:  len(jpeg),
		PicWidth:  width,
		PicHeight: height,
		Data:      jpeg,
	}, h)
}

// SendTypingStatus tells the customer whether the rep is typing.
func (c *Conversation) SendTypingStatus(isTyping bool) {
	c.send(wire.NotifyTypingStatus{IsTyping: isTyping}, nil)
}

// SendTypingPreview sends the customer's draft text. Calls faster than
// Config.TypingPreviewInterval are dropped; the result reports whether the
// preview was sent.
func (c *Conversation) SendTypingPreview(text string) bool {
	if !c.preview.Allow() {
		return false
	}
	c.send(wire.NotifyTypingPreview{Text: text}, nil)
	return true
}

// EndLiveChat ends the live chat. It reports false, and starts a reconnect,
// when the conversation is not connected.
func (c *Conversation) EndLiveChat() bool {
	if !c.IsConnected(true) {
		return false
	}
	c.send(wire.EndConversation{}, nil)
	return true
}

// SendEnterChat tells the server the chat view is open.
func (c *Conversation) SendEnterChat() {
	c.send(wire.EnterChat{}, nil)
}

// AppOpen requests the automated greeting.
func (c *Conversation) AppOpen(h ResponseHandler) {
	c.send(wire.AppOpen{}, h)
}

// SendButtonSelection submits a button tap to the automated response tree.
func (c *Conversation) SendButtonSelection(b ButtonSelection, h ResponseHandler) {
	req := wire.Treewalk{
		Text:           b.Text,
		Classification: b.Classification,
		Data:           c.stringify(b.Data),
	}
	if b.ParentSeq > 0 {
		seq := b.ParentSeq
		req.ParentEventLogSeq = &seq
	}
	c.send(req, h)
	c.TrackEvent("treewalk", map[string]string{"message": b.Text, "classification": b.Classification}, nil)
}

// SendSRSQuery submits a free-text query to the automated response system.
func (c *Conversation) SendSRSQuery(query string, h ResponseHandler) {
	c.send(wire.Treewalk{Text: query, SearchQuery: query}, h)
}

// SendLinkTap records a tap on a link button.
func (c *Conversation) SendLinkTap(title, link string, data map[string]any, h ResponseHandler) {
	c.send(wire.CreateLinkButtonTapEvent{Title: title, Link: link, Data: c.stringify(data)}, h)
}

// GetComponentView requests a server-described view by name.
func (c *Conversation) GetComponentView(name string, data map[string]any, h ResponseHandler) {
	c.send(wire.GetComponentView{ComponentView: name, Data: c.stringify(data)}, h)
}

// SendAPIAction sends a server-described action to its endpoint path.
func (c *Conversation) SendAPIAction(path string, data map[string]any, h ResponseHandler) {
	fields := map[string]any{}
	if s := c.stringify(data); s != "" {
		fields["Data"] = s
	}
	c.send(wire.Raw{Endpoint: path, Fields: fields}, h)
}

// SendRating submits a rating and feedback through the rating action path.
func (c *Conversation) SendRating(path string, rating int, feedback string, h ResponseHandler) {
	c.SendAPIAction(path, map[string]any{"Rating": rating, "Feedback": feedback}, h)
}

// TrackEvent records an analytics event. Device attributes are added to
// attributes; caller values win.
func (c *Conversation) TrackEvent(eventType string, attributes map[string]string, metrics map[string]float64) {
	attrs := map[string]string{
		"device_model":            "go",
		"device_platform_name":    runtime.GOOS,
		"device_platform_version": runtime.Version(),
		"device_uuid":             c.deviceID,
		"device_event_sequence":   strconv.FormatInt(c.eventSeq.Add(1), 10),
	}
	for k, v := range attributes {
		attrs[k] = v
	}
	c.send(wire.PutMAEvent{EventType: eventType, Attributes: attrs, Metrics: metrics}, nil)
}

// SendHTTPAction sends a server-described HTTP action. The request carries
// the session envelope and the conversation context under "context". It
// blocks until the response arrives and must not be called from a callback.
func (c *Conversation) SendHTTPAction(ctx context.Context, method, url string, data map[string]any) (map[string]any, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if method == "" {
		method = http.MethodPost
	}
	fields := map[string]any{}
	if data != nil {
		fields["data"] = data
	}
	var params map[string]any
	if !c.main.Sync(func() { params = c.ser.RequestParams(fields, "context") }) {
		return nil, ErrClosed
	}
	resp, err := c.http.SendRequest(ctx, method, url, params)
	if err != nil {
		return nil, fmt.Errorf("http action: %w", err)
	}
	return resp, nil
}

func (c *Conversation) stringify(v map[string]any) string {
	if len(v) == 0 {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("serialize action data", "error", err)
		return ""
	}
	return string(b)
}
