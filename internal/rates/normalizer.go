// Package rates turns the customer rate table and live market quotes into
// one comparable set of RateQuotes for an order.
package rates

import (
	"context"
	"sort"

	"github.com/tournevent/shiprouter/internal/eligibility"
	"github.com/tournevent/shiprouter/internal/ratetable"
	"github.com/tournevent/shiprouter/internal/telemetry"
	"github.com/tournevent/shiprouter/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// DefaultMarginPercent is the buffer added to live market quotes.
const DefaultMarginPercent = 5.0

// Config configures the normalizer.
type Config struct {
	DiscountCarrier string  // registry name of the discount carrier
	DiscountDisplay string  // display name on the discount quote
	MarginPercent   float64 // buffer applied to live market quotes
}

// Quotes is the normalized quote set for one routing attempt.
type Quotes struct {
	Discount         *shipper.RateQuote  `json:"discount,omitempty"`
	Market           []shipper.RateQuote `json:"market"`
	FallbackCarriers []string            `json:"fallback_carriers,omitempty"`
	Errors           map[string]string   `json:"errors,omitempty"`
}

// All returns every quote, discount first.
func (q Quotes) All() []shipper.RateQuote {
	all := make([]shipper.RateQuote, 0, len(q.Market)+1)
	if q.Discount != nil {
		all = append(all, *q.Discount)
	}
	return append(all, q.Market...)
}

// Normalizer builds the discount quote from the rate table and fetches
// market quotes from every other registered quote provider.
type Normalizer struct {
	config   Config
	table    *ratetable.Table
	registry *shipper.Registry
	logger   *otelzap.Logger
	metrics  *telemetry.Metrics
}

// New creates a Normalizer. metrics may be nil.
func New(cfg Config, table *ratetable.Table, registry *shipper.Registry, logger *otelzap.Logger, metrics *telemetry.Metrics) *Normalizer {
	if cfg.DiscountCarrier == "" {
		cfg.DiscountCarrier = shipper.CarrierDiscount
	}
	if cfg.DiscountDisplay == "" {
		cfg.DiscountDisplay = "Discount Carrier"
	}
	if cfg.MarginPercent < 0 {
		cfg.MarginPercent = 0
	}
	if table == nil {
		table = ratetable.Default()
	}
	return &Normalizer{
		config:   cfg,
		table:    table,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
	}
}

// Quotes returns the discount quote (nil when not quotable) and market
// quotes fetched concurrently. A market carrier whose live call fails is
// replaced by its fallback quotes when it offers them.
func (n *Normalizer) Quotes(ctx context.Context, order shipper.OrderData, elig eligibility.Result) Quotes {
	out := Quotes{
		Discount: n.DiscountQuote(elig.Zone, elig.WeightOz),
		Market:   []shipper.RateQuote{},
	}

	if n.registry == nil {
		return out
	}

	req := &shipper.RateQuoteRequest{
		Origin:       order.Origin,
		Destination:  order.Destination,
		Package:      elig.Package(),
		ServiceLevel: order.ServiceLevel,
	}

	fallbackSeen := make(map[string]bool)
	for _, res := range n.registry.GetAllQuotes(ctx, req, n.config.DiscountCarrier) {
		quotes := res.Quotes
		if res.Err != nil {
			quotes = n.fallbackFor(res.Carrier, req)
			if len(quotes) == 0 {
				n.logger.Ctx(ctx).Warn("Market carrier returned no quotes",
					zap.String("carrier", res.Carrier),
					zap.Error(res.Err),
				)
				if out.Errors == nil {
					out.Errors = make(map[string]string)
				}
				out.Errors[res.Carrier] = res.Err.Error()
				continue
			}
			n.logger.Ctx(ctx).Warn("Using fallback quotes",
				zap.String("carrier", res.Carrier),
				zap.Error(res.Err),
			)
		}

		for _, q := range quotes {
			if q.Source == shipper.QuoteFallback && !fallbackSeen[res.Carrier] {
				fallbackSeen[res.Carrier] = true
				out.FallbackCarriers = append(out.FallbackCarriers, res.Carrier)
				n.metrics.RecordFallback(res.Carrier)
			}
			out.Market = append(out.Market, n.applyMargin(q))
		}
	}

	sort.SliceStable(out.Market, func(i, j int) bool {
		return out.Market[i].Cost.Amount < out.Market[j].Cost.Amount
	})
	return out
}

// DiscountQuote prices a package from the customer rate table, or returns
// nil when the zone and weight are not quotable.
func (n *Normalizer) DiscountQuote(zone int, weightOz float64) *shipper.RateQuote {
	price := n.table.Lookup(zone, shipper.OuncesToKilograms(weightOz))
	if price == nil {
		return nil
	}
	z := zone
	return &shipper.RateQuote{
		Carrier:      n.config.DiscountCarrier,
		CarrierName:  n.config.DiscountDisplay,
		ServiceCode:  "STANDARD",
		ServiceName:  n.config.DiscountDisplay + " Standard",
		Cost:         shipper.Money{Amount: *price, Currency: n.table.Currency},
		DeliveryDays: DiscountDeliveryDays(zone),
		Zone:         &z,
		Source:       shipper.QuoteTable,
	}
}

// DiscountDeliveryDays estimates discount carrier transit time by zone.
func DiscountDeliveryDays(zone int) shipper.DeliveryDays {
	var days int
	switch {
	case zone <= 0:
		days = 1
	case zone <= 2:
		days = 2
	case zone <= 4:
		days = 3
	case zone <= 6:
		days = 4
	default:
		days = 5
	}
	return shipper.DeliveryDays{Min: days, Max: days}
}

func (n *Normalizer) fallbackFor(carrier string, req *shipper.RateQuoteRequest) []shipper.RateQuote {
	s, err := n.registry.Get(carrier)
	if err != nil {
		return nil
	}
	fq, ok := s.(shipper.FallbackQuoter)
	if !ok {
		return nil
	}
	return fq.FallbackQuotes(req)
}

// applyMargin buffers live quotes only; fallback figures are already
// conservative.
func (n *Normalizer) applyMargin(q shipper.RateQuote) shipper.RateQuote {
	if q.Source != shipper.QuoteLive || n.config.MarginPercent == 0 {
		return q
	}
	q.Cost.Amount = shipper.Round(q.Cost.Amount*(1+n.config.MarginPercent/100), 2)
	return q
}
