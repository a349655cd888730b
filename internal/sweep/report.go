package sweep

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

const ruleWidth = 80

// Write 以文本形式输出逐项明细与汇总表。
func (r *Report) Write(w io.Writer) error {
	var b strings.Builder

	if r.Prepared {
		b.WriteString("Data ready\n\n")
	}
	b.WriteString(strings.Repeat("=", ruleWidth) + "\n")
	b.WriteString("RECOMMENDATION SWEEP\n")
	b.WriteString(strings.Repeat("=", ruleWidth) + "\n")

	for _, e := range r.Entries {
		amount := strconv.FormatFloat(e.Amount, 'f', -1, 64)
		if e.Err != nil {
			fmt.Fprintf(&b, "\nRisk=%-12s Amount=$%-7s  ERROR: %v\n", e.Risk, amount, e.Err)
			continue
		}
		fmt.Fprintf(&b, "\nRisk=%-12s Amount=$%-7s  Weights≈%s  Dollars≈%s\n",
			e.Risk, amount,
			strconv.FormatFloat(e.WeightSum, 'f', -1, 64),
			strconv.FormatFloat(e.DollarSum, 'f', -1, 64),
		)
		for _, a := range e.Top {
			fmt.Fprintf(&b, "  %-5s $%s  (w=%.3f)\n", a.Symbol, dollars(a.Dollar), a.Weight)
		}
	}
	b.WriteString("\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("sweep: 输出报告失败: %w", err)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Risk", "Amount", "Weights", "Dollars", "Top"})
	for _, e := range r.Entries {
		row := []string{string(e.Risk), "$" + dollars(e.Amount)}
		if e.Err != nil {
			row = append(row, "-", "-", "error")
		} else {
			top := ""
			if len(e.Top) > 0 {
				top = e.Top[0].Symbol
			}
			row = append(row,
				strconv.FormatFloat(e.WeightSum, 'f', -1, 64),
				"$"+dollars(e.DollarSum),
				top,
			)
		}
		table.Append(row)
	}
	table.Render()
	return nil
}

func dollars(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}
