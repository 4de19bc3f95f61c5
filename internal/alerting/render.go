package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DisplayLayout is how timestamps appear in chat messages.
const DisplayLayout = "2006-01-02 15:04:05 MST"

// BreachKind classifies a new extremum.
type BreachKind string

const (
	BreachNone BreachKind = ""
	BreachLow  BreachKind = "low"
	BreachHigh BreachKind = "high"
)

// FormatTime renders t in loc for display.
func FormatTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayLayout)
}

// RenderBreach 生成新极值告警文本。
func RenderBreach(kind BreachKind, gwei decimal.Decimal, at time.Time, loc *time.Location) string {
	label := "📈 New 7d High"
	if kind == BreachLow {
		label = "📉 New 7d Low"
	}
	return fmt.Sprintf("%s: %s gwei\n%s", label, gwei.String(), FormatTime(at, loc))
}

// RenderDailyReport 生成每日汇总文本。
func RenderDailyReport(low, high decimal.Decimal, at time.Time, loc *time.Location) string {
	builder := strings.Builder{}
	builder.WriteString("📊 Daily Gas Report\n")
	builder.WriteString(fmt.Sprintf("📉 Low: %s gwei\n", low.String()))
	builder.WriteString(fmt.Sprintf("📈 High: %s gwei\n", high.String()))
	builder.WriteString(fmt.Sprintf("🕒 %s", FormatTime(at, loc)))
	return builder.String()
}
