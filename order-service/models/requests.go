package models

type AddItemRequest struct {
	ClientID  int64 `json:"client_id" binding:"required"`
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required"`
}

type ValidateOrderRequest struct {
	ShippingAddress *Address `json:"shipping_address"`
	BillingAddress  *Address `json:"billing_address"`
	ClientComment   string   `json:"client_comment"`
}

type ShipOrderRequest struct {
	Carrier        string `json:"carrier" binding:"required"`
	TrackingNumber string `json:"tracking_number" binding:"required"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason"`
}
