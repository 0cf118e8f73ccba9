package syncserver

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"nhooyr.io/websocket"

	"github.com/deltamesh/onionmesh/internal/logging"
	"github.com/deltamesh/onionmesh/internal/recovery"
	"github.com/deltamesh/onionmesh/internal/topiclog"

	"net/http"
)

// clientMessage is the shape of a message a subscriber may send to inject
// an op (spec §6): `{"type":"op","data":"<base64>"}`. Malformed client
// messages are silently ignored.
type clientMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// serverMessage is the shape of every message the server sends: either
// `{"type":"op","seq":N,"data":"<base64>"}` or `{"type":"ready","head":H}`.
// MarshalJSON writes only the fields of the message's type, and writes them
// even when zero: a fresh topic's ready marker is `{"type":"ready","head":0}`
// and an empty op carries `"data":""`.
type serverMessage struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
	Head uint64 `json:"head"`
	Data string `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (m serverMessage) MarshalJSON() ([]byte, error) {
	if m.Type == "ready" {
		return json.Marshal(struct {
			Type string `json:"type"`
			Head uint64 `json:"head"`
		}{m.Type, m.Head})
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		Seq  uint64 `json:"seq"`
		Data string `json:"data"`
	}{m.Type, m.Seq, m.Data})
}

// serveTopicWebSocket upgrades the connection and drives the replay →
// ready → live-fanout contract of spec §4.6/§6 over it, while also
// accepting client-injected ops on the same connection.
func (s *Server) serveTopicWebSocket(w http.ResponseWriter, r *http.Request, topic topiclog.TopicID, since uint64) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"onionmesh-topic/1"},
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	msgs, unsubscribe := s.manager.Subscribe(topic, since)
	defer unsubscribe()

	if s.metrics != nil {
		s.metrics.SubscribersActive.Inc()
		defer s.metrics.SubscribersActive.Dec()
	}

	go s.readInjectedOps(ctx, conn, topic)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "topic log closed the subscription")
				return
			}
			if err := s.writeTopicMessage(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeTopicMessage(ctx context.Context, conn *websocket.Conn, msg topiclog.Message) error {
	var out serverMessage
	switch {
	case msg.Entry != nil:
		out = serverMessage{Type: "op", Seq: msg.Entry.Seq, Data: base64.StdEncoding.EncodeToString(msg.Entry.Op)}
	case msg.Ready != nil:
		out = serverMessage{Type: "ready", Head: msg.Ready.Head}
	default:
		return nil
	}

	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// readInjectedOps reads client messages for the lifetime of the
// connection, appending any valid injected op to the topic (spec §6:
// client may send `{"type":"op","data":"<base64>"}` to inject an op,
// treated as a local append). Malformed messages are ignored, not fatal.
func (s *Server) readInjectedOps(ctx context.Context, conn *websocket.Conn, topic topiclog.TopicID) {
	defer recovery.RecoverWithLog(s.logger, "syncserver.readInjectedOps")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var in clientMessage
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		if in.Type != "op" {
			continue
		}
		op, err := base64.StdEncoding.DecodeString(in.Data)
		if err != nil {
			continue
		}

		seq := s.manager.Append(topic, op)
		if s.metrics != nil {
			s.metrics.AppendsTotal.Inc()
		}
		s.logger.Debug("client-injected op appended",
			logging.KeySeq, seq,
			logging.KeyComponent, "syncserver")
	}
}
