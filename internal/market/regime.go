package market

import "github.com/shopspring/decimal"

// RegimeClassifier decides the directional regime from the latest close and
// the two moving averages. Injected so deterministic fakes can be
// substituted in tests.
type RegimeClassifier interface {
	Classify(close, ma20, ma200 decimal.Decimal) Regime
}

// MAAlignmentClassifier is the production regime rule:
//
//	long  iff close > ma20 && ma20 > ma200
//	short iff close < ma20 && ma20 < ma200
//	neutral otherwise
type MAAlignmentClassifier struct{}

// Classify implements RegimeClassifier.
func (MAAlignmentClassifier) Classify(close, ma20, ma200 decimal.Decimal) Regime {
	switch {
	case close.GreaterThan(ma20) && ma20.GreaterThan(ma200):
		return RegimeLong
	case close.LessThan(ma20) && ma20.LessThan(ma200):
		return RegimeShort
	default:
		return RegimeNeutral
	}
}

// ClassifierFunc adapts a plain function to the RegimeClassifier interface.
type ClassifierFunc func(close, ma20, ma200 decimal.Decimal) Regime

// Classify implements RegimeClassifier.
func (f ClassifierFunc) Classify(close, ma20, ma200 decimal.Decimal) Regime {
	return f(close, ma20, ma200)
}
