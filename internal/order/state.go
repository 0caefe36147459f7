package order

import (
	"fmt"

	"plan-sentinel/internal/plan"
	"plan-sentinel/internal/venue"
)

// DetermineOrderType 由计划的入场方式与方向推导场所订单类型。
// 未指定入场方式时一律市价单。
func DetermineOrderType(p *plan.Plan) venue.OrderType {
	switch p.OrderStyle {
	case plan.OrderStyleStop:
		if p.Direction == plan.DirectionShort {
			return venue.OrderTypeSellStop
		}
		return venue.OrderTypeBuyStop
	case plan.OrderStyleLimit:
		if p.Direction == plan.DirectionShort {
			return venue.OrderTypeSellLimit
		}
		return venue.OrderTypeBuyLimit
	default:
		return venue.OrderTypeMarket
	}
}

// ValidateEntry 校验挂单价相对当前价的几何关系：
// buy-stop 与 sell-limit 要求入场价高于当前价，
// buy-limit 与 sell-stop 要求入场价低于当前价，
// 两价相等一律无效。市价单不做校验。
func ValidateEntry(orderType venue.OrderType, entry, current float64) error {
	switch orderType {
	case venue.OrderTypeMarket:
		return nil
	case venue.OrderTypeBuyStop, venue.OrderTypeSellLimit:
		if entry <= current {
			return fmt.Errorf("order: %s 的入场价 %.8g 必须高于当前价 %.8g", orderType, entry, current)
		}
		return nil
	case venue.OrderTypeBuyLimit, venue.OrderTypeSellStop:
		if entry >= current {
			return fmt.Errorf("order: %s 的入场价 %.8g 必须低于当前价 %.8g", orderType, entry, current)
		}
		return nil
	default:
		return fmt.Errorf("order: 未知订单类型 %q", orderType)
	}
}
