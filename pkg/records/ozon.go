package records

import "github.com/shopspring/decimal"

// Posting is one Ozon posting (shipment-level order) from the seller
// API. Responses arrive as an object with a nested postings array.
type Posting struct {
	PostingNumber string           `json:"posting_number"`
	OrderID       int64            `json:"order_id"`
	OrderNumber   string           `json:"order_number"`
	Status        string           `json:"status"`
	CreatedAt     string           `json:"created_at"`
	InProcessAt   string           `json:"in_process_at"`
	Products      []PostingProduct `json:"products"`
}

// PostingProduct is one product line inside a posting. Ozon serializes
// prices as quoted decimal strings; decimal.Decimal accepts both forms.
type PostingProduct struct {
	SKU      int64           `json:"sku"`
	OfferID  string          `json:"offer_id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// Identity uses the explicit posting number when present, else the
// composite order id | created_at.
func (p Posting) Identity() (string, bool) {
	if p.PostingNumber != "" {
		return "posting:" + p.PostingNumber, true
	}
	return compositeKey("posting",
		nonZero(p.OrderID),
		p.CreatedAt,
	)
}

// Total sums price x quantity over the posting's product lines.
func (p Posting) Total() decimal.Decimal {
	total := decimal.Zero
	for _, prod := range p.Products {
		total = total.Add(prod.Price.Mul(decimal.NewFromInt(int64(prod.Quantity))))
	}
	return total
}
