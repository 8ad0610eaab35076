package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/example/order-dispatch/internal/finance"
	"github.com/example/order-dispatch/internal/geo"
	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/observability"
)

var (
	// ErrNoSuitableDriver is a result variant, surfaced to the restaurant
	// actor rather than treated as a fault.
	ErrNoSuitableDriver = errors.New("no suitable driver")

	// ErrWageUnavailable is a hard stop: callers must never proceed to
	// assignment with a zero or defaulted wage.
	ErrWageUnavailable = errors.New("driver wage unavailable")
)

// maxConcurrentOrders is the hard cap: candidates already carrying more than
// this many orders are never considered.
const maxConcurrentOrders = 3

// FinanceRuleProvider supplies the distance-tiered wage table and the
// over-limit formula. Implemented in internal/finance.
type FinanceRuleProvider interface {
	// TierWage returns the fixed wage for the integer-km ceiling band, or
	// ok=false when no band covers it.
	TierWage(ctx context.Context, ceilKm int) (float64, bool, error)
	// WageFormula returns the stored formula evaluated for distances past
	// the last fixed band; distance is its only variable.
	WageFormula(ctx context.Context) (string, error)
}

// formulaThresholdKm is the edge of the fixed-wage table; beyond it the
// stored formula takes over.
const formulaThresholdKm = 5

type Service struct {
	Rules  FinanceRuleProvider
	Logger *slog.Logger
}

func NewService(rules FinanceRuleProvider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Rules: rules, Logger: logger}
}

// SelectDriver scores the candidates against the order's restaurant and
// returns the winner plus its distance in km. Ordering: ascending distance,
// then descending activePoints, then ascending currentOrderCount. Distance
// first minimizes customer wait; points only break near-ties; order count
// spreads load among otherwise-equal candidates.
func (s *Service) SelectDriver(candidates []models.DriverCandidate, order models.Order) (models.DriverCandidate, float64, error) {
	type scored struct {
		c    models.DriverCandidate
		dist float64
	}
	list := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if c.CurrentOrderCount > maxConcurrentOrders {
			continue
		}
		dist := geo.DistanceKm(c.Loc.Lat, c.Loc.Lng, order.RestaurantAddress.Lat, order.RestaurantAddress.Lng)
		list = append(list, scored{c: c, dist: dist})
	}
	if len(list) == 0 {
		observability.NoDriverTotal.Inc()
		return models.DriverCandidate{}, 0, ErrNoSuitableDriver
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].dist != list[j].dist {
			return list[i].dist < list[j].dist
		}
		if list[i].c.ActivePoints != list[j].c.ActivePoints {
			return list[i].c.ActivePoints > list[j].c.ActivePoints
		}
		return list[i].c.CurrentOrderCount < list[j].c.CurrentOrderCount
	})
	best := list[0]
	observability.AssignmentsTotal.Inc()
	return best.c, best.dist, nil
}

// ComputeWage resolves the driver wage for a trip distance. Distances within
// the fixed table use the integer-km ceiling band; past the table the stored
// formula is evaluated with distance as input.
func (s *Service) ComputeWage(ctx context.Context, distanceKm float64) (float64, error) {
	if distanceKm < 0 {
		return 0, fmt.Errorf("%w: negative distance", ErrWageUnavailable)
	}
	if distanceKm <= formulaThresholdKm {
		tier := int(math.Ceil(distanceKm))
		if tier == 0 {
			tier = 1
		}
		wage, ok, err := s.Rules.TierWage(ctx, tier)
		if err != nil {
			observability.WageLookupFailures.Inc()
			return 0, fmt.Errorf("%w: %v", ErrWageUnavailable, err)
		}
		if !ok {
			observability.WageLookupFailures.Inc()
			return 0, fmt.Errorf("%w: no band for %dkm", ErrWageUnavailable, tier)
		}
		return wage, nil
	}
	formula, err := s.Rules.WageFormula(ctx)
	if err != nil {
		observability.WageLookupFailures.Inc()
		return 0, fmt.Errorf("%w: %v", ErrWageUnavailable, err)
	}
	wage, err := finance.Evaluate(formula, distanceKm)
	if err != nil {
		observability.WageLookupFailures.Inc()
		return 0, fmt.Errorf("%w: formula %q: %v", ErrWageUnavailable, formula, err)
	}
	return wage, nil
}
