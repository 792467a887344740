package models

import "time"

// EventType names an outbound notification.
type EventType string

const (
	EventTradeExecuted   EventType = "trade_executed"
	EventBotStatusUpdate EventType = "bot_status_update"
	EventPortfolioUpdate EventType = "portfolio_update"
)

// Event is published fire-and-forget to UI subscribers.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Account   string      `json:"account,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// TradeExecutedData is the payload of a trade_executed event.
type TradeExecutedData struct {
	Symbol    string    `json:"symbol"`
	Action    OrderSide `json:"action"`
	Quantity  int       `json:"quantity"`
	Price     string    `json:"price"`
	Brokerage string    `json:"brokerage"`
	OrderID   string    `json:"order_id"`
}

// StatusUpdateData is the payload of a bot_status_update event.
type StatusUpdateData struct {
	Status  SessionStatus `json:"status"`
	Message string        `json:"message"`
}

// PortfolioUpdateData is the payload of a portfolio_update event.
type PortfolioUpdateData struct {
	AvailableCash  string `json:"available_cash"`
	PortfolioValue string `json:"portfolio_value"`
	NetPnL         string `json:"net_pnl"`
	OpenPositions  int    `json:"open_positions"`
}
