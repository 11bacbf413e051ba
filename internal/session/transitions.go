package session

import (
	"fmt"

	"BotArena/internal/domain/models"
)

// legal lists every allowed edge of the session lifecycle.
var legal = map[models.SessionStatus][]models.SessionStatus{
	models.SessionDiscovered:         {models.SessionArmed, models.SessionClosed},
	models.SessionArmed:              {models.SessionDecided, models.SessionClosed},
	models.SessionDecided:            {models.SessionAwaitingResolution, models.SessionClosed},
	models.SessionAwaitingResolution: {models.SessionResolved, models.SessionClosed},
	models.SessionResolved:           {models.SessionClosed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to models.SessionStatus) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to models.SessionStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, models.ErrIllegalTransition)
	}
	return nil
}

// Close reasons recorded on MarketSession.CloseReason.
const (
	ReasonDecisionTimeout = "decision_timeout"
	ReasonNoTrade         = "no_trade"
	ReasonRiskRejected    = "risk_rejected"
	ReasonPlacementFailed = "placement_failure"
	ReasonBotRetired      = "bot_retired"
	ReasonLedgerFailed    = "ledger_failure"
	ReasonSignalError     = "signal_error"
	ReasonResolved        = "resolved"
	ReasonShadowScored    = "shadow_scored"
)
