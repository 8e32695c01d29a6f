// Package pricing estimates EC2 spend from the AWS Price List API.
package pricing

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/pricing/types"
	"github.com/chainguard-dev/clog"
)

const (
	// The Price List API is only served from a handful of regions; us-east-1
	// carries prices for every region.
	EndpointRegion = "us-east-1"

	serviceCodeEC2 = "AmazonEC2"
)

var (
	ErrNoPrice     = fmt.Errorf("no on-demand price found")
	ErrPriceLookup = fmt.Errorf("failed to query the price list")
)

// PricingAPI is the slice of the Price List API the catalog uses.
type PricingAPI interface {
	GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

var _ PricingAPI = (*pricing.Client)(nil)

// Catalog looks up on-demand EC2 prices.
type Catalog struct {
	client PricingAPI
}

func NewCatalog(client PricingAPI) *Catalog {
	return &Catalog{client: client}
}

// NewCatalogFromConfig builds a Catalog on a Price List client pinned to
// 'EndpointRegion', whatever region 'cfg' targets.
func NewCatalogFromConfig(cfg aws.Config) *Catalog {
	return NewCatalog(pricing.NewFromConfig(cfg, func(o *pricing.Options) {
		o.Region = EndpointRegion
	}))
}

// HourlyRate returns the on-demand USD hourly rate of a shared-tenancy Linux
// 'instanceType' in 'region', with no pre-installed software or license.
func (c *Catalog) HourlyRate(ctx context.Context, region, instanceType string) (float64, error) {
	log := clog.FromContext(ctx).With("region", region, "instance_type", instanceType)

	input := &pricing.GetProductsInput{
		ServiceCode: aws.String(serviceCodeEC2),
		Filters: termMatch(
			"termType", "OnDemand",
			"capacitystatus", "Used",
			"regionCode", region,
			"instanceType", instanceType,
			"tenancy", "Shared",
			"operatingSystem", "Linux",
			"preInstalledSw", "NA",
			"licenseModel", "No License required",
		),
		FormatVersion: aws.String("aws_v1"),
	}

	paginator := pricing.NewGetProductsPaginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrPriceLookup, err)
		}
		for _, raw := range page.PriceList {
			doc, err := ParseDocument(raw)
			if err != nil {
				log.Warn("skipping undecodable price document", "error", err)
				continue
			}
			if !doc.Matches(
				productIsLinux,
				productIsShared,
				productIsBoxUsage,
				productHasNoPreinstalledSoftware,
			) {
				log.Debug("skipping price document", "sku", doc.Product.SKU, "usage_type", doc.Product.Attributes.UsageType)
				continue
			}
			if rate, ok := doc.OnDemandUSD(); ok {
				log.Debug("found on-demand rate", "sku", doc.Product.SKU, "usd_per_hour", rate)
				return rate, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %s in %s", ErrNoPrice, instanceType, region)
}

// termMatch builds TERM_MATCH filters from alternating field/value pairs.
func termMatch(pairs ...string) []types.Filter {
	filters := make([]types.Filter, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		filters = append(filters, types.Filter{
			Type:  types.FilterTypeTermMatch,
			Field: aws.String(pairs[i]),
			Value: aws.String(pairs[i+1]),
		})
	}
	return filters
}
