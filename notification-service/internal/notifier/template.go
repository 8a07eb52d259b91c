package notifier

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/courtside/storefront/pkg/events"
	"github.com/shopspring/decimal"
)

const confirmationTag = "order-confirmation"

var funcs = map[string]any{
	"money": func(amount decimal.Decimal, currency string) string {
		return amount.StringFixed(2) + " " + strings.ToUpper(currency)
	},
	"lineTotal": func(l events.OrderLine) decimal.Decimal {
		return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
	},
	"variant": func(l events.OrderLine) string {
		parts := make([]string, 0, 2)
		if l.Size != "" {
			parts = append(parts, l.Size)
		}
		if l.Color != "" {
			parts = append(parts, l.Color)
		}
		return strings.Join(parts, " / ")
	},
}

var confirmationHTML = htmltemplate.Must(htmltemplate.New("confirmation.html").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<body>
<p>{{if .BuyerName}}Hi {{.BuyerName}},{{else}}Hi,{{end}}</p>
<p>Thanks for your order. We have received your payment and your order <strong>{{.CorrelationID}}</strong> is being prepared.</p>
<table>
<tr><th align="left">Item</th><th align="right">Qty</th><th align="right">Price</th></tr>
{{- range .Lines}}
<tr><td>{{.ProductID}}{{with variant .}} ({{.}}){{end}}</td><td align="right">{{.Quantity}}</td><td align="right">{{money (lineTotal .) $.Currency}}</td></tr>
{{- end}}
</table>
<p>Total: <strong>{{money .TotalAmount .Currency}}</strong></p>
</body>
</html>
`))

var confirmationText = texttemplate.Must(texttemplate.New("confirmation.txt").Funcs(funcs).Parse(`{{if .BuyerName}}Hi {{.BuyerName}},{{else}}Hi,{{end}}

Thanks for your order. We have received your payment and your order {{.CorrelationID}} is being prepared.
{{range .Lines}}
- {{.ProductID}}{{with variant .}} ({{.}}){{end}} x{{.Quantity}}: {{money (lineTotal .) $.Currency}}
{{- end}}

Total: {{money .TotalAmount .Currency}}
`))

// OrderConfirmation renders the confirmation email for a materialized order.
func OrderConfirmation(evt *events.OrderMaterialized) (Message, error) {
	var html, text bytes.Buffer
	if err := confirmationHTML.Execute(&html, evt); err != nil {
		return Message{}, fmt.Errorf("render html: %w", err)
	}
	if err := confirmationText.Execute(&text, evt); err != nil {
		return Message{}, fmt.Errorf("render text: %w", err)
	}
	return Message{
		To:      evt.Email,
		ToName:  evt.BuyerName,
		Subject: fmt.Sprintf("Your order %s is confirmed", evt.CorrelationID),
		HTML:    html.String(),
		Text:    text.String(),
		Tag:     confirmationTag,
	}, nil
}
