package domain

type OrderCreated struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	OrderToken  string `json:"order_token"`
	TotalCents  int64  `json:"total_cents"`
}
