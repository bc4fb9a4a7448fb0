package service

import (
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentURI 生成收款二维码内容。
// 金额从 microSTX 换算为 STX，memo 截断到协议上限后再编码。
func PaymentURI(address string, amountMicroStx int64, memo string) string {
	var b strings.Builder
	b.WriteString("stacks:")
	b.WriteString(address)

	query := url.Values{}
	if amountMicroStx > 0 {
		stx := decimal.NewFromInt(amountMicroStx).Shift(-6)
		query.Set("amount", stx.String())
	}
	memo = strings.TrimSpace(memo)
	if memo != "" {
		if len(memo) > settlementMemoMaxLength {
			memo = memo[:settlementMemoMaxLength]
		}
		query.Set("memo", memo)
	}
	if encoded := query.Encode(); encoded != "" {
		b.WriteString("?")
		b.WriteString(encoded)
	}
	return b.String()
}
