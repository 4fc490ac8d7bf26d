package trademark

// Category is a goods/services grouping offered by the search wizard.
type Category string

const (
	CategoryBoth     Category = "商品・サービス"
	CategoryGoods    Category = "商品"
	CategoryServices Category = "サービス"
)

// Categories lists the wizard's category options in display order.
func Categories() []Category {
	return []Category{CategoryBoth, CategoryGoods, CategoryServices}
}

// IsCategory reports whether s is one of the category options.
func IsCategory(s string) bool {
	for _, c := range Categories() {
		if string(c) == s {
			return true
		}
	}
	return false
}

// Currency for every price the portal quotes.
const Currency = "JPY"

// Pricing is what the payment step shows before an attorney consultation.
type Pricing struct {
	AttorneyConsultationFee int    `json:"attorneyConsultationFee"`
	Currency                string `json:"currency"`
}

// NewPricing builds the quote for the configured fee.
func NewPricing(fee int) Pricing {
	return Pricing{AttorneyConsultationFee: fee, Currency: Currency}
}

// StatusOption is one case status as offered to clients.
type StatusOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Stage int    `json:"stage"`
}
