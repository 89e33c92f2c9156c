package httpserver

// Request and response shapes for the REST surface. Prices travel as
// decimal strings; quantities are whole lots.

type AuthRequest struct {
	User string `json:"user"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  string `json:"user"`
}

type OrderRequest struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
}

type CancelRequest struct {
	OrderID string `json:"orderId"`
}

type ModifyRequest struct {
	OrderID  string `json:"orderId"`
	Price    string `json:"price,omitempty"`
	Quantity int64  `json:"quantity,omitempty"`
}

type OrderInfo struct {
	ID        string `json:"id"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Remaining int64  `json:"remaining"`
	Updated   int64  `json:"updated"`
}

type ExecutionInfo struct {
	ID       string `json:"id"`
	OrderID  string `json:"orderId"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
	Time     int64  `json:"time"`
}

type SubmitResponse struct {
	Order      OrderInfo       `json:"order"`
	Executions []ExecutionInfo `json:"executions"`
}

type PriceLevel struct {
	Price    string `json:"price"`
	Quantity int64  `json:"quantity"`
}

type OrderbookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSEvent wraps a message pushed over the execution feed.
type WSEvent struct {
	Type string        `json:"type"`
	Data ExecutionInfo `json:"data"`
}
