// Package parser recognizes payment confirmations posted by the payment bot.
package parser

import (
	"regexp"
	"strings"

	"CryptoBotListener/internal/models"

	"github.com/shopspring/decimal"
)

const DefaultCodePrefix = "MASK"

// Parser turns raw chat text into payment data. Implementations must not do I/O.
type Parser interface {
	ParsePayment(text string) (*models.PaymentEvent, bool)
	ExtractPaymentCode(text string) (string, bool)
}

// The bot writes e.g.
//
//	let name="Alice 🎁"
//	оплатил(а) ваш счёт #IV39234014. Вы получили 🟢 5 USDT ($5).
var paymentPattern = regexp.MustCompile(
	`(?is)let name="([^"]+)".*?оплатил\(а\) ваш счёт #(\w+)\. Вы получили.*?([\d.]+)\s+(\w+)\s+\(\$?([\d.]+)\)`,
)

type CryptoBot struct {
	codePattern *regexp.Regexp
}

// NewCryptoBot builds a parser for codes of the form PREFIX-XXXXXX (6 to 12 alphanumerics).
func NewCryptoBot(codePrefix string) *CryptoBot {
	if codePrefix == "" {
		codePrefix = DefaultCodePrefix
	}
	return &CryptoBot{
		codePattern: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(codePrefix) + `-[A-Z0-9]{6,12}`),
	}
}

func (p *CryptoBot) ParsePayment(text string) (*models.PaymentEvent, bool) {
	m := paymentPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	amount, err := decimal.NewFromString(m[3])
	if err != nil {
		return nil, false
	}
	usd, err := decimal.NewFromString(m[5])
	if err != nil {
		return nil, false
	}
	return &models.PaymentEvent{
		SenderName: strings.TrimSpace(m[1]),
		InvoiceID:  m[2],
		Amount:     amount,
		Currency:   strings.ToUpper(m[4]),
		USDAmount:  usd,
	}, true
}

func (p *CryptoBot) ExtractPaymentCode(text string) (string, bool) {
	code := p.codePattern.FindString(text)
	if code == "" {
		return "", false
	}
	return strings.ToUpper(code), true
}
