package exchange

import (
	"github.com/shopspring/decimal"
)

// ==================== ENUMS ====================

// Side is the order side
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PositionSide is the hedge-mode position side
type PositionSide string

const (
	PositionSideBoth  PositionSide = "BOTH"
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// OrderType is the venue order type
type OrderType string

const (
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
	OrderTypeTakeProfit       OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitLimit  OrderType = "TAKE_PROFIT_LIMIT"
)

// TimeInForce controls order lifetime
type TimeInForce string

const (
	TimeInForceGTC    TimeInForce = "GTC"
	TimeInForceIOC    TimeInForce = "IOC"
	TimeInForceFOK    TimeInForce = "FOK"
	TimeInForceGTX    TimeInForce = "GTX"
	TimeInForceGTEGTC TimeInForce = "GTE_GTC"
)

// WorkingType selects the trigger price source for stop orders
type WorkingType string

const (
	WorkingTypeContractPrice WorkingType = "CONTRACT_PRICE"
	WorkingTypeMarkPrice     WorkingType = "MARK_PRICE"
)

// Order status values
const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusExpired         = "EXPIRED"
)

// ==================== ORDER TYPES ====================

// OrderParams carries the parameters for placing an order. Prices and
// quantities are exact decimals; serialization uses canonical decimal
// strings.
type OrderParams struct {
	Symbol        string
	Side          Side
	PositionSide  PositionSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	TimeInForce   TimeInForce
	ReduceOnly    bool
	ClosePosition bool
	WorkingType   WorkingType
	ClientOrderID string
}

// OrderAck is the normalized response from placing an order.
type OrderAck struct {
	OrderID string
	Status  string
}

// Order is a normalized open or historical order.
type Order struct {
	OrderID     string
	Symbol      string
	Side        Side
	Type        OrderType
	Status      string
	Price       decimal.Decimal
	StopPrice   decimal.Decimal
	OrigQty     decimal.Decimal
	ExecutedQty decimal.Decimal
}

// Position is a normalized position. PositionAmt is signed: positive long,
// negative short, zero flat.
type Position struct {
	Symbol      string
	PositionAmt decimal.Decimal
	EntryPrice  decimal.Decimal
}
