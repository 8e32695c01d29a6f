package pricing

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

type (
	// Document is a single entry of the GetProducts 'PriceList' response: one
	// product (SKU) and every offer term attached to it.
	//
	// The value we want is buried a few maps deep:
	//   .terms.OnDemand.[SKU.OFFER_TERM_CODE].priceDimensions.[RATE_CODE].pricePerUnit.USD
	// while '.product.attributes' tells us what the SKU actually is.
	Document struct {
		Product Product `json:"product"`
		Terms   Terms   `json:"terms"`
	}

	Product struct {
		SKU        string            `json:"sku"`
		Attributes ProductAttributes `json:"attributes"`
	}

	ProductAttributes struct {
		InstanceType   string `json:"instanceType"`
		RegionCode     string `json:"regionCode"`
		Tenancy        string `json:"tenancy"`
		UsageType      string `json:"usagetype"`
		OS             string `json:"operatingSystem"`
		PreinstalledSW string `json:"preInstalledSw"`
		CapacityStatus string `json:"capacitystatus"`
	}

	// Terms is keyed by term type ('OnDemand', 'Reserved').
	Terms map[string]map[OfferCode]OfferTerm

	OfferTerm struct {
		PriceDimensions map[RateCode]PriceDimension `json:"priceDimensions"`
	}

	PriceDimension struct {
		Unit         string       `json:"unit"`
		Description  string       `json:"description"`
		PricePerUnit PricePerUnit `json:"pricePerUnit"`
	}

	PricePerUnit struct {
		USD string `json:"USD"`
	}

	OfferCode = string
	RateCode  = string

	// ProductFilter reports whether a product should be priced.
	ProductFilter func(p Product) bool
)

const termOnDemand = "OnDemand"

var ErrDocumentDecode = fmt.Errorf("failed to decode price list document")

// ParseDocument decodes one raw JSON price list document.
func ParseDocument(raw string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %w", ErrDocumentDecode, err)
	}
	return doc, nil
}

// OnDemandUSD returns the first non-zero on-demand USD price per unit in the
// document. Offer and rate codes are visited in sorted order so the result
// is stable across calls.
func (d Document) OnDemandUSD() (float64, bool) {
	offers := d.Terms[termOnDemand]
	for _, offerCode := range slices.Sorted(maps.Keys(offers)) {
		dims := offers[offerCode].PriceDimensions
		for _, rateCode := range slices.Sorted(maps.Keys(dims)) {
			price, err := strconv.ParseFloat(dims[rateCode].PricePerUnit.USD, 64)
			if err != nil || price <= 0 {
				continue
			}
			return price, true
		}
	}
	return 0, false
}

// Matches reports whether the document's product satisfies all filters.
func (d Document) Matches(filters ...ProductFilter) bool {
	for _, f := range filters {
		if !f(d.Product) {
			return false
		}
	}
	return true
}

// On-demand instance hours carry a 'BoxUsage:' usage type, prefixed with a
// region code ('USW2-BoxUsage:') everywhere except us-east-1.
func productIsBoxUsage(p Product) bool {
	return strings.HasPrefix(p.Attributes.UsageType, "BoxUsage:") ||
		strings.Contains(p.Attributes.UsageType, "-BoxUsage:")
}

func productIsLinux(p Product) bool {
	return p.Attributes.OS == "Linux"
}

func productIsShared(p Product) bool {
	return p.Attributes.Tenancy == "Shared"
}

// Marketplace bundles ship with software like SQL Server pre-installed and
// are priced higher.
func productHasNoPreinstalledSoftware(p Product) bool {
	return p.Attributes.PreinstalledSW == "NA"
}
