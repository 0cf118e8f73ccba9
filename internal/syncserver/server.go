// Package syncserver implements the terminal sync service's HTTP surface
// (spec §4.6, §6): POST /deliver from the relay's terminal delivery bridge,
// and GET /topic/<topic_hex>?since=N for subscriber WebSocket upgrades.
// Grounded on the teacher's http.ServeMux-based handler registration
// (internal/health/server.go) and its WebSocket session handling
// (internal/health/shell.go's nhooyr.io/websocket Accept/Read/Write/Close
// idiom).
package syncserver

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deltamesh/onionmesh/internal/logging"
	"github.com/deltamesh/onionmesh/internal/metrics"
	"github.com/deltamesh/onionmesh/internal/recovery"
	"github.com/deltamesh/onionmesh/internal/topiclog"
)

var topicHexPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Server is the sync service's HTTP handler.
type Server struct {
	manager *topiclog.Manager
	metrics *metrics.Sync
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewServer builds a sync server around manager. m may be nil to disable
// metrics.
func NewServer(manager *topiclog.Manager, m *metrics.Sync, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}

	s := &Server{
		manager: manager,
		metrics: m,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/deliver", s.handleDeliver)
	mux.HandleFunc("/topic/", s.handleTopic)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	s.mux = mux

	if m != nil {
		go s.reportTopicCount()
	}

	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, `{"status":"ok"}`)
}

// deliverRequest is the wire body of POST /deliver (spec §4.7, §6).
type deliverRequest struct {
	TopicHex string `json:"topic_hex"`
	OpBase64 string `json:"op_base64"`
}

// handleDeliver implements POST /deliver (spec §6): 200 success, 400
// validation failure. topiclog.Manager.Append cannot fail, so this handler
// never responds 502.
func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	defer recovery.RecoverWithLog(s.logger, "syncserver.handleDeliver")

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req deliverRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	if !topicHexPattern.MatchString(req.TopicHex) {
		http.Error(w, "topic_hex must be 64 lowercase hex characters", http.StatusBadRequest)
		return
	}
	topicBytes, err := hex.DecodeString(req.TopicHex)
	if err != nil {
		http.Error(w, "invalid topic_hex", http.StatusBadRequest)
		return
	}
	op, err := base64.StdEncoding.DecodeString(req.OpBase64)
	if err != nil {
		http.Error(w, "invalid op_base64", http.StatusBadRequest)
		return
	}

	var topic topiclog.TopicID
	copy(topic[:], topicBytes)

	seq := s.manager.Append(topic, op)
	if s.metrics != nil {
		s.metrics.AppendsTotal.Inc()
	}

	s.logger.Debug("delivered",
		logging.KeyTopic, req.TopicHex,
		logging.KeySeq, seq,
		logging.KeyComponent, "syncserver")

	w.WriteHeader(http.StatusOK)
}

// handleTopic dispatches GET /topic/<topic_hex> to the WebSocket upgrade
// handler. Any other method or a malformed topic_hex is rejected before a
// connection is ever accepted.
func (s *Server) handleTopic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	topicHex := strings.TrimPrefix(r.URL.Path, "/topic/")
	if !topicHexPattern.MatchString(topicHex) {
		http.Error(w, "path must be /topic/<64 hex chars>", http.StatusBadRequest)
		return
	}

	since := uint64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	var topic topiclog.TopicID
	topicBytes, _ := hex.DecodeString(topicHex)
	copy(topic[:], topicBytes)

	s.serveTopicWebSocket(w, r, topic, since)
}

// reportTopicCount polls the topic count into a gauge every few seconds.
// Polling rather than pushing is adequate here: the manager has no
// subscriber hook of its own, and topic count changes slowly compared to
// individual appends.
func (s *Server) reportTopicCount() {
	defer recovery.RecoverWithLog(s.logger, "syncserver.reportTopicCount")

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.metrics.TopicsActive.Set(float64(s.manager.TopicCount()))
	}
}
