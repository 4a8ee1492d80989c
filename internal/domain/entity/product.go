package entity

import (
	"time"
)

type ProductAvailability string

const (
	AvailabilityExchange ProductAvailability = "exchange"
	AvailabilityDonation ProductAvailability = "donation"
	AvailabilityBoth     ProductAvailability = "both"
)

// Product is the catalog listing. Listing CRUD lives outside messaging; this
// type only carries what conversations snapshot or need to route a contact.
type Product struct {
	ID           string              `json:"id" firestore:"id"`
	Title        string              `json:"title" firestore:"title"`
	Description  string              `json:"description" firestore:"description"`
	Images       []string            `json:"images" firestore:"images"`
	Price        *float64            `json:"price,omitempty" firestore:"price,omitempty"`
	Availability ProductAvailability `json:"availability" firestore:"availability"`
	UserID       string              `json:"user_id" firestore:"userId"`
	IsActive     bool                `json:"is_active" firestore:"isActive"`
	CreatedAt    time.Time           `json:"created_at" firestore:"createdAt"`
	UpdatedAt    time.Time           `json:"updated_at" firestore:"updatedAt"`
}

func (p *Product) Snapshot() *ProductInfo {
	info := &ProductInfo{
		ID:     p.ID,
		Title:  p.Title,
		Images: append([]string{}, p.Images...),
	}
	if p.Price != nil {
		price := *p.Price
		info.Price = &price
	}
	return info
}
