package models

import "time"

type EventType string

const (
	EventTradeOpened    EventType = "trade.opened"
	EventTradeResolved  EventType = "trade.resolved"
	EventRiskRejected   EventType = "risk.rejected"
	EventEpochCompleted EventType = "epoch.completed"
	EventModeSwitched   EventType = "mode.switched"
)

// Event is published to the arena events topic. Key orders events per bot.
type Event struct {
	Type    EventType   `json:"type"`
	Key     string      `json:"key"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload"`
}

// SentimentScore is the message carried on the sentiment topic.
type SentimentScore struct {
	Source string    `json:"source"`
	Score  float64   `json:"score"`
	At     time.Time `json:"at"`
}
