package signal

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"regime-trading-bot/internal/market"
)

// DecodeError reports a missing or malformed stream field.
type DecodeError struct {
	Field string
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("signal field %q: %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("signal field %q missing", e.Field)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// EncodeFields serializes a signal into stream entry fields. Decimal values
// use canonical decimal strings.
func EncodeFields(s Signal) map[string]interface{} {
	switch sig := s.(type) {
	case Arm:
		return map[string]interface{}{
			"type":    string(KindArm),
			"sym":     sig.Symbol,
			"tf":      sig.Timeframe,
			"ind_ts":  strconv.FormatInt(sig.IndTS, 10),
			"side":    string(sig.Side),
			"trigger": sig.Trigger.String(),
			"stop":    sig.Stop.String(),
		}
	case Disarm:
		return map[string]interface{}{
			"type":      string(KindDisarm),
			"sym":       sig.Symbol,
			"tf":        sig.Timeframe,
			"ind_ts":    strconv.FormatInt(sig.IndTS, 10),
			"side":      string(sig.Side),
			"prev_side": string(sig.Side),
			"reason":    sig.Reason,
		}
	}
	return nil
}

// DecodeFields parses stream entry fields back into the signal union.
func DecodeFields(values map[string]interface{}) (Signal, error) {
	kind, err := stringField(values, "type")
	if err != nil {
		return nil, err
	}
	sym, err := stringField(values, "sym")
	if err != nil {
		return nil, err
	}
	tf, err := stringField(values, "tf")
	if err != nil {
		return nil, err
	}
	indTS, err := int64Field(values, "ind_ts")
	if err != nil {
		return nil, err
	}
	sideStr, err := stringField(values, "side")
	if err != nil {
		return nil, err
	}
	side := market.Side(sideStr)
	if side != market.SideLong && side != market.SideShort {
		return nil, &DecodeError{Field: "side", Cause: fmt.Errorf("invalid side %q", sideStr)}
	}

	switch Kind(kind) {
	case KindArm:
		trigger, err := decimalField(values, "trigger")
		if err != nil {
			return nil, err
		}
		stop, err := decimalField(values, "stop")
		if err != nil {
			return nil, err
		}
		return Arm{
			Symbol:    sym,
			Timeframe: tf,
			IndTS:     indTS,
			Side:      side,
			Trigger:   trigger,
			Stop:      stop,
		}, nil
	case KindDisarm:
		reason, _ := stringField(values, "reason")
		return Disarm{
			Symbol:    sym,
			Timeframe: tf,
			IndTS:     indTS,
			Side:      side,
			Reason:    reason,
		}, nil
	default:
		return nil, &DecodeError{Field: "type", Cause: fmt.Errorf("unknown signal type %q", kind)}
	}
}

func stringField(values map[string]interface{}, field string) (string, error) {
	raw, ok := values[field]
	if !ok {
		return "", &DecodeError{Field: field}
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", &DecodeError{Field: field}
	}
	return s, nil
}

func int64Field(values map[string]interface{}, field string) (int64, error) {
	s, err := stringField(values, field)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &DecodeError{Field: field, Cause: err}
	}
	return n, nil
}

func decimalField(values map[string]interface{}, field string) (decimal.Decimal, error) {
	s, err := stringField(values, field)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &DecodeError{Field: field, Cause: err}
	}
	return d, nil
}
