package domain

import "time"

// MaxQuantityPerItem bounds the quantity a single cart line may hold.
const MaxQuantityPerItem = 100

// PlaceholderProductName is shown for lines whose product cannot be resolved.
const PlaceholderProductName = "Unavailable product"

// CartLine is one persisted purchasable unit held by an owner. The pair
// (ProductID, VariantID) is unique per owner; an empty VariantID means the
// product has no variant.
type CartLine struct {
	ID        string    `json:"id"`
	Owner     OwnerKey  `json:"-"`
	ProductID string    `json:"product_id"`
	VariantID string    `json:"variant_id"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LineKey identifies a purchasable unit within one owner's cart.
type LineKey struct {
	ProductID string
	VariantID string
}

// Key returns the line's unique key within its owner's cart.
func (l *CartLine) Key() LineKey {
	return LineKey{ProductID: l.ProductID, VariantID: l.VariantID}
}

// Product is the live catalog view of a product used to price lines and
// reconcile them against stock.
type Product struct {
	ID            string
	Name          string
	BasePrice     int64
	ImageURL      string
	StockQuantity int
	Variants      []ProductVariant
}

// ProductVariant is a purchasable variant of a Product. A nil Price falls
// back to the product's base price.
type ProductVariant struct {
	ID            string
	Name          string
	Price         *int64
	StockQuantity int
	ImageURL      string
}

// Variant returns the variant with the given id.
func (p *Product) Variant(id string) (*ProductVariant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// Offer is the price, stock and presentation of one purchasable unit,
// resolved from a product and an optional variant.
type Offer struct {
	Name      string
	ImageURL  string
	UnitPrice int64
	Stock     int
}

// Offer resolves the unit identified by variantID. An empty variantID selects
// the product itself. ok is false when the variant does not exist.
func (p *Product) Offer(variantID string) (Offer, bool) {
	offer := Offer{
		Name:      p.Name,
		ImageURL:  p.ImageURL,
		UnitPrice: p.BasePrice,
		Stock:     p.StockQuantity,
	}
	if variantID == "" {
		return offer, true
	}

	v, ok := p.Variant(variantID)
	if !ok {
		return Offer{}, false
	}
	if v.Name != "" {
		offer.Name = p.Name + " - " + v.Name
	}
	if v.ImageURL != "" {
		offer.ImageURL = v.ImageURL
	}
	if v.Price != nil {
		offer.UnitPrice = *v.Price
	}
	offer.Stock = v.StockQuantity
	return offer, true
}

// AggregateEntry is a cart line joined with live catalog data. UnitPrice is
// the price captured when the line was last written, not the current price.
type AggregateEntry struct {
	ProductID string
	VariantID string
	Quantity  int
	UnitPrice int64
	Name      string
	ImageURL  string
	LiveStock int
	Available bool
}

// Subtotal returns UnitPrice * Quantity in minor units.
func (e *AggregateEntry) Subtotal() int64 {
	return e.UnitPrice * int64(e.Quantity)
}

// Aggregate is the read-time view of one owner's cart, newest line first.
type Aggregate struct {
	Owner   OwnerKey
	Entries []AggregateEntry
}

// TotalAmount calculates the total price of all entries (in cents).
func (a *Aggregate) TotalAmount() int64 {
	var total int64
	for i := range a.Entries {
		total += a.Entries[i].Subtotal()
	}
	return total
}

// ItemCount returns the total number of units in the cart.
func (a *Aggregate) ItemCount() int {
	var count int
	for _, e := range a.Entries {
		count += e.Quantity
	}
	return count
}

// Find returns the entry for the given product and variant.
func (a *Aggregate) Find(productID, variantID string) (*AggregateEntry, bool) {
	for i := range a.Entries {
		if a.Entries[i].ProductID == productID && a.Entries[i].VariantID == variantID {
			return &a.Entries[i], true
		}
	}
	return nil, false
}
