package enums

// FulfillmentSource identifies which trigger asked for an order to be fulfilled.
type FulfillmentSource string

const (
	FulfillmentSourceBuyer   FulfillmentSource = "buyer_confirm"
	FulfillmentSourceWebhook FulfillmentSource = "webhook"
)

// String implements fmt.Stringer.
func (s FulfillmentSource) String() string {
	return string(s)
}
