package domain

// Outbox event payloads published after reservation state changes.

type StockReserved struct {
	ReservationID int64  `json:"reservation_id"`
	ProductID     int64  `json:"product_id"`
	Quantity      int    `json:"quantity"`
	OrderToken    string `json:"order_token"`
}

type ReservationConfirmed struct {
	OrderToken string `json:"order_token"`
	Count      int    `json:"count"`
}

type ReservationCancelled struct {
	OrderToken string `json:"order_token"`
	Count      int    `json:"count"`
}
