// Package sentiment keeps the latest market sentiment score fed from a Kafka topic.
package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"BotArena/internal/domain/models"
	domrepo "BotArena/internal/domain/repository"
	pkgkafka "BotArena/pkg/kafka"
	applogger "BotArena/pkg/logger"
	"BotArena/pkg/util"
)

// Store holds the most recent score. It implements repository.SentimentSource.
type Store struct {
	mu     sync.RWMutex
	latest models.SentimentScore
	ok     bool
}

func NewStore() *Store { return &Store{} }

func (s *Store) Latest() (models.SentimentScore, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.ok
}

// Put keeps sc unless a newer score is already held.
func (s *Store) Put(sc models.SentimentScore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ok && sc.At.Before(s.latest.At) {
		return
	}
	s.latest = sc
	s.ok = true
}

var (
	bullish = []string{"bull", "moon", "pump", "breakout", "ath", "buy", "long", "rocket", "surge", "rally", "green", "up only", "send it", "wagmi"}
	bearish = []string{"bear", "dump", "crash", "sell", "short", "rug", "red", "down", "collapse", "plunge", "rekt", "ngmi", "capitulate"}
)

// ScoreText is a keyword score in [-1, 1]: (bullish - bearish) / (bullish + bearish) hits, 0 when neither appears.
func ScoreText(text string) float64 {
	t := strings.ToLower(text)
	bull, bear := 0, 0
	for _, kw := range bullish {
		if strings.Contains(t, kw) {
			bull++
		}
	}
	for _, kw := range bearish {
		if strings.Contains(t, kw) {
			bear++
		}
	}
	if bull+bear == 0 {
		return 0
	}
	return float64(bull-bear) / float64(bull+bear)
}

// Handler consumes sentiment messages: {"source", "score", "at"} or {"source", "text", "at"}.
// at is RFC3339 or unix seconds; a missing at means now.
type Handler struct {
	topic   string
	store   *Store
	metrics domrepo.Metrics
	log     *applogger.Logger
	now     func() time.Time
}

var _ pkgkafka.MessageHandler = (*Handler)(nil)

func NewHandler(topic string, store *Store, metrics domrepo.Metrics, log *applogger.Logger) *Handler {
	return &Handler{topic: topic, store: store, metrics: metrics, log: log.With("sentiment"), now: func() time.Time { return time.Now().UTC() }}
}

func (h *Handler) Topic() string { return h.topic }

func (h *Handler) Handle(_ context.Context, b []byte) error {
	var m struct {
		Source string          `json:"source"`
		Score  *float64        `json:"score"`
		Text   string          `json:"text"`
		At     json.RawMessage `json:"at"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("sentiment_unmarshal")
		return fmt.Errorf("decode sentiment: %w", err)
	}

	var score float64
	switch {
	case m.Score != nil:
		score = *m.Score
	case m.Text != "":
		score = ScoreText(m.Text)
	default:
		h.metrics.RecordError("sentiment_empty")
		return fmt.Errorf("sentiment message from %q has neither score nor text", m.Source)
	}
	if math.IsNaN(score) {
		return fmt.Errorf("sentiment score from %q is NaN", m.Source)
	}

	at := h.now()
	if raw := strings.Trim(string(m.At), `"`); raw != "" && raw != "null" {
		if t, ok := util.ParseTime(raw); ok {
			at = t.UTC()
		}
	}

	sc := models.SentimentScore{Source: m.Source, Score: math.Max(-1, math.Min(1, score)), At: at}
	h.store.Put(sc)
	h.log.Debug("sentiment updated", applogger.String("source", sc.Source), applogger.Float64("score", sc.Score))
	return nil
}
