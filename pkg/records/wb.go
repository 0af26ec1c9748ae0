package records

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Sale is one Wildberries sale or return row from the statistics API.
type Sale struct {
	Date            string          `json:"date"`
	LastChangeDate  string          `json:"lastChangeDate"`
	SaleID          string          `json:"saleID"`
	SupplierArticle string          `json:"supplierArticle"`
	NmID            int64           `json:"nmId"`
	Barcode         string          `json:"barcode"`
	WarehouseName   string          `json:"warehouseName"`
	RegionName      string          `json:"regionName"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	ForPay          decimal.Decimal `json:"forPay"`
	FinishedPrice   decimal.Decimal `json:"finishedPrice"`
	PriceWithDisc   decimal.Decimal `json:"priceWithDisc"`
}

// Identity uses the explicit saleID when present, else the composite
// date | nmId | barcode | forPay.
func (s Sale) Identity() (string, bool) {
	if s.SaleID != "" {
		return "sale:" + s.SaleID, true
	}
	return compositeKey("sale",
		s.Date,
		nonZero(s.NmID),
		s.Barcode,
		s.ForPay.String(),
	)
}

// Order is one Wildberries order row from the statistics API.
type Order struct {
	Date            string          `json:"date"`
	LastChangeDate  string          `json:"lastChangeDate"`
	SrID            string          `json:"srid"`
	OdID            int64           `json:"odid"`
	SupplierArticle string          `json:"supplierArticle"`
	NmID            int64           `json:"nmId"`
	Barcode         string          `json:"barcode"`
	WarehouseName   string          `json:"warehouseName"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	IsCancel        bool            `json:"isCancel"`
	CancelDate      string          `json:"cancelDate"`
}

// Identity uses the explicit srid when present, else the composite
// date | odid | nmId | totalPrice.
func (o Order) Identity() (string, bool) {
	if o.SrID != "" {
		return "order:" + o.SrID, true
	}
	return compositeKey("order",
		o.Date,
		nonZero(o.OdID),
		nonZero(o.NmID),
		o.TotalPrice.String(),
	)
}

// Stock is one Wildberries warehouse stock row. The endpoint is a
// current-state snapshot; the composite identity keys on the physical
// location of the goods.
type Stock struct {
	LastChangeDate  string `json:"lastChangeDate"`
	SupplierArticle string `json:"supplierArticle"`
	NmID            int64  `json:"nmId"`
	Barcode         string `json:"barcode"`
	WarehouseName   string `json:"warehouseName"`
	Quantity        int    `json:"quantity"`
	InWayToClient   int    `json:"inWayToClient"`
	InWayFromClient int    `json:"inWayFromClient"`
}

// Identity is the composite nmId | barcode | warehouse.
func (s Stock) Identity() (string, bool) {
	return compositeKey("stock",
		nonZero(s.NmID),
		s.Barcode,
		s.WarehouseName,
	)
}

func nonZero(n int64) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}
