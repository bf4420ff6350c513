// Package routing picks a carrier for an order and drives the shipment
// through creation.
package routing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tournevent/shiprouter/internal/eligibility"
	"github.com/tournevent/shiprouter/internal/rates"
	"github.com/tournevent/shiprouter/pkg/shipper"
)

// Rule names the decision rule that fired.
type Rule string

const (
	RuleIneligible        Rule = "ineligible"
	RuleNoDiscountRate    Rule = "no_discount_rate"
	RuleNoCompetitorRates Rule = "no_competitor_rates"
	RuleSpeedAdvantage    Rule = "speed_advantage"
	RuleSavingsThreshold  Rule = "savings_threshold"
	RuleCompetitorCheaper Rule = "competitor_cheaper"
)

// ErrNoRoute is returned when no quote at all is available for an order.
var ErrNoRoute = errors.New("no carrier quote available")

// Decision is the outcome of one routing pass. Savings is what the chosen
// carrier saves against the best alternative; it is zero when there was no
// alternative to compare with.
type Decision struct {
	OrderID            string               `json:"order_id"`
	Carrier            string               `json:"carrier"`
	CarrierName        string               `json:"carrier_name"`
	ServiceCode        string               `json:"service_code"`
	Cost               shipper.Money        `json:"cost"`
	DeliveryDays       shipper.DeliveryDays `json:"delivery_days"`
	Reason             string               `json:"reason"`
	Rule               Rule                 `json:"rule"`
	Savings            float64              `json:"savings"`
	SavingsPercent     float64              `json:"savings_percent"`
	SpeedAdvantageDays int                  `json:"speed_advantage_days"`
	QuoteSource        shipper.QuoteSource  `json:"quote_source"`
	FallbackCarriers   []string             `json:"fallback_carriers,omitempty"`
	DecidedAt          time.Time            `json:"decided_at"`
}

// Quote returns the chosen quote.
func (d Decision) Quote() shipper.RateQuote {
	return shipper.RateQuote{
		Carrier:      d.Carrier,
		CarrierName:  d.CarrierName,
		ServiceCode:  d.ServiceCode,
		Cost:         d.Cost,
		DeliveryDays: d.DeliveryDays,
		Source:       d.QuoteSource,
	}
}

// EngineConfig holds the business thresholds.
type EngineConfig struct {
	MinSavings         float64 // dollars
	SpeedThresholdDays int
}

// DefaultEngineConfig returns $1.00 minimum savings and a 2 day speed threshold.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{MinSavings: 1.00, SpeedThresholdDays: 2}
}

// Engine applies the routing rules. It holds no per-order state.
type Engine struct {
	config EngineConfig
}

// NewEngine creates an Engine. A zero speed threshold falls back to the default.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.SpeedThresholdDays <= 0 {
		cfg.SpeedThresholdDays = DefaultEngineConfig().SpeedThresholdDays
	}
	if cfg.MinSavings < 0 {
		cfg.MinSavings = 0
	}
	return &Engine{config: cfg}
}

// Decide picks a carrier. Rules are evaluated in order:
//  1. ineligible orders go to the cheapest non-discount quote
//  2. without a discount quote the cheapest quote wins
//  3. without competitor quotes the discount carrier wins
//  4. the discount carrier wins on a speed advantage at or above the
//     threshold, then on savings at or above the minimum; otherwise the
//     cheapest competitor wins
func (e *Engine) Decide(quotes rates.Quotes, elig eligibility.Result) (Decision, error) {
	competitor := cheapest(quotes.Market)

	if !elig.Eligible {
		if competitor == nil {
			return Decision{}, fmt.Errorf("%w: order is ineligible for the discount carrier and no competitor quoted", ErrNoRoute)
		}
		reason := "ineligible for discount carrier"
		if len(elig.Reasons) > 0 {
			reason += ": " + strings.Join(elig.Reasons, "; ")
		}
		return e.decision(*competitor, RuleIneligible, reason, quotes), nil
	}

	if quotes.Discount == nil {
		if competitor == nil {
			return Decision{}, ErrNoRoute
		}
		return e.decision(*competitor, RuleNoDiscountRate, "no discount rate available", quotes), nil
	}
	discount := *quotes.Discount

	if competitor == nil {
		return e.decision(discount, RuleNoCompetitorRates, "no competitor rates available", quotes), nil
	}

	savings := shipper.Round(competitor.Cost.Amount-discount.Cost.Amount, 2)
	speed := competitor.DeliveryDays.Min - discount.DeliveryDays.Max

	if speed >= e.config.SpeedThresholdDays {
		reason := fmt.Sprintf("discount carrier is %d days faster than %s", speed, quoteLabel(*competitor))
		if savings >= 0 {
			reason += fmt.Sprintf(" and saves $%.2f", savings)
		} else {
			reason += fmt.Sprintf(" for $%.2f more", -savings)
		}
		d := e.decision(discount, RuleSpeedAdvantage, reason, quotes)
		d.Savings = savings
		d.SavingsPercent = percent(savings, competitor.Cost.Amount)
		d.SpeedAdvantageDays = speed
		return d, nil
	}

	if savings >= e.config.MinSavings {
		pct := percent(savings, competitor.Cost.Amount)
		reason := fmt.Sprintf("discount carrier saves $%.2f (%.2f%%) vs %s", savings, pct, quoteLabel(*competitor))
		d := e.decision(discount, RuleSavingsThreshold, reason, quotes)
		d.Savings = savings
		d.SavingsPercent = pct
		d.SpeedAdvantageDays = speed
		return d, nil
	}

	var reason string
	if savings < 0 {
		reason = fmt.Sprintf("%s is $%.2f cheaper than the discount carrier", quoteLabel(*competitor), -savings)
	} else {
		reason = fmt.Sprintf("discount carrier saves only $%.2f, below the $%.2f threshold; using %s",
			savings, e.config.MinSavings, quoteLabel(*competitor))
	}
	d := e.decision(*competitor, RuleCompetitorCheaper, reason, quotes)
	d.Savings = -savings
	d.SavingsPercent = percent(-savings, discount.Cost.Amount)
	d.SpeedAdvantageDays = -speed
	return d, nil
}

func (e *Engine) decision(q shipper.RateQuote, rule Rule, reason string, quotes rates.Quotes) Decision {
	return Decision{
		Carrier:          q.Carrier,
		CarrierName:      q.CarrierName,
		ServiceCode:      q.ServiceCode,
		Cost:             q.Cost,
		DeliveryDays:     q.DeliveryDays,
		Reason:           reason,
		Rule:             rule,
		QuoteSource:      q.Source,
		FallbackCarriers: quotes.FallbackCarriers,
	}
}

// cheapest returns the lowest-cost quote, preferring the faster one on a tie.
func cheapest(quotes []shipper.RateQuote) *shipper.RateQuote {
	var best *shipper.RateQuote
	for i := range quotes {
		q := &quotes[i]
		if best == nil ||
			q.Cost.Amount < best.Cost.Amount ||
			(q.Cost.Amount == best.Cost.Amount && q.DeliveryDays.Min < best.DeliveryDays.Min) {
			best = q
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

func percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return shipper.Round(part/whole*100, 2)
}

func quoteLabel(q shipper.RateQuote) string {
	if q.ServiceName != "" {
		return q.ServiceName
	}
	if q.CarrierName != "" {
		return q.CarrierName
	}
	return q.Carrier
}
