package schedule

import (
	"strings"
	"time"

	"plan-sentinel/internal/plan"
)

// Archetype 为计划的行为原型，决定其检查间隔档位。
type Archetype string

const (
	// ArchetypeScalp 短周期抢点：条件多为分钟级。
	ArchetypeScalp Archetype = "scalp"
	// ArchetypeIntraday 日内计划，默认原型。
	ArchetypeIntraday Archetype = "intraday"
	// ArchetypeSwing 波段计划：4小时以上周期。
	ArchetypeSwing Archetype = "swing"
)

// profile 为原型对应的近/中/远三档检查间隔。
type profile struct {
	close time.Duration
	base  time.Duration
	far   time.Duration
}

var profiles = map[Archetype]profile{
	ArchetypeScalp:    {close: 15 * time.Second, base: 30 * time.Second, far: time.Minute},
	ArchetypeIntraday: {close: 30 * time.Second, base: time.Minute, far: 3 * time.Minute},
	ArchetypeSwing:    {close: time.Minute, base: 3 * time.Minute, far: 10 * time.Minute},
}

var fastTimeframes = map[string]bool{"1m": true, "3m": true, "5m": true, "15m": true}
var slowTimeframes = map[string]bool{"4h": true, "6h": true, "12h": true, "1d": true, "1w": true}

// Classify 从条件集、周期与备注推断计划原型。已有原型的计划
// 直接返回缓存值；首次分类后由调用方回写到计划上。
func Classify(p *plan.Plan) Archetype {
	if p.Archetype != "" {
		return Archetype(p.Archetype)
	}

	notes := strings.ToLower(p.Notes)
	if strings.Contains(notes, "scalp") {
		return ArchetypeScalp
	}
	if strings.Contains(notes, "swing") {
		return ArchetypeSwing
	}

	fast, slow := 0, 0
	for _, cond := range p.Conditions {
		for _, tf := range conditionTimeframes(cond) {
			if fastTimeframes[tf] {
				fast++
			}
			if slowTimeframes[tf] {
				slow++
			}
		}
	}
	switch {
	case fast > 0 && slow == 0:
		return ArchetypeScalp
	case slow > 0 && fast == 0:
		return ArchetypeSwing
	default:
		return ArchetypeIntraday
	}
}

func conditionTimeframes(c plan.Condition) []string {
	var out []string
	if c.BandRetouch != nil && c.BandRetouch.Timeframe != "" {
		out = append(out, c.BandRetouch.Timeframe)
	}
	if c.Extremity != nil && c.Extremity.Timeframe != "" {
		out = append(out, c.Extremity.Timeframe)
	}
	if c.RangeStretch != nil && c.RangeStretch.Timeframe != "" {
		out = append(out, c.RangeStretch.Timeframe)
	}
	if c.Pattern != nil && c.Pattern.Timeframe != "" {
		out = append(out, c.Pattern.Timeframe)
	}
	if c.Correlation != nil && c.Correlation.Timeframe != "" {
		out = append(out, c.Correlation.Timeframe)
	}
	return out
}

func (a Archetype) profile() profile {
	if p, ok := profiles[a]; ok {
		return p
	}
	return profiles[ArchetypeIntraday]
}
