package money

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fastprodman/starledger/internal/apperr"
)

// Currency is a supported ISO-style three-letter code.
type Currency struct {
	code string
}

type currencyInfo struct {
	symbol            string
	name              string
	fragmentSupported bool
	starsCompatible   bool
}

var currencies = map[string]currencyInfo{
	"USD": {symbol: "$", name: "US Dollar", fragmentSupported: true, starsCompatible: true},
	"EUR": {symbol: "€", name: "Euro", fragmentSupported: true, starsCompatible: true},
	"UAH": {symbol: "₴", name: "Ukrainian Hryvnia", fragmentSupported: false, starsCompatible: true},
	"KZT": {symbol: "₸", name: "Kazakhstani Tenge", fragmentSupported: false, starsCompatible: true},
	"BYN": {symbol: "Br", name: "Belarusian Ruble", fragmentSupported: false, starsCompatible: false},
	"UZS": {symbol: "soʻm", name: "Uzbekistani Som", fragmentSupported: false, starsCompatible: false},
	"XTR": {symbol: "⭐", name: "Telegram Stars", fragmentSupported: true, starsCompatible: true},
}

var (
	USD = Currency{code: "USD"}
	EUR = Currency{code: "EUR"}
	UAH = Currency{code: "UAH"}
	KZT = Currency{code: "KZT"}
	BYN = Currency{code: "BYN"}
	UZS = Currency{code: "UZS"}
	XTR = Currency{code: "XTR"}
)

// ParseCurrency normalizes code (trim, upper-case) and checks it is supported.
func ParseCurrency(code string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))

	if _, ok := currencies[normalized]; !ok {
		return Currency{}, apperr.New(apperr.CodeUnsupportedCurrency, "", map[string]any{
			"currency":  code,
			"supported": SupportedCodes(),
		})
	}

	return Currency{code: normalized}, nil
}

// SupportedCodes lists the supported codes in lexical order.
func SupportedCodes() []string {
	out := make([]string, 0, len(currencies))
	for c := range currencies {
		out = append(out, c)
	}

	sort.Strings(out)

	return out
}

func (c Currency) Code() string          { return c.code }
func (c Currency) String() string        { return c.code }
func (c Currency) IsZero() bool          { return c.code == "" }
func (c Currency) Equal(o Currency) bool { return c.code == o.code }

func (c Currency) Symbol() string { return currencies[c.code].symbol }
func (c Currency) Name() string   { return currencies[c.code].name }

// FragmentSupported reports whether the currency can settle through Fragment.
func (c Currency) FragmentSupported() bool { return currencies[c.code].fragmentSupported }

// StarsCompatible reports whether stars can be bought with this currency.
func (c Currency) StarsCompatible() bool { return currencies[c.code].starsCompatible }

// Format renders amount with the currency symbol.
func (c Currency) Format(m Money) string {
	return fmt.Sprintf("%s %s", m.String(), c.Symbol())
}

func (c Currency) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.code)
}

func (c *Currency) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("decode currency: %w", err)
	}

	parsed, err := ParseCurrency(s)
	if err != nil {
		return err
	}

	*c = parsed

	return nil
}

func (c Currency) Value() (driver.Value, error) {
	return c.code, nil
}

func (c *Currency) Scan(src any) error {
	var s string

	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("scan currency: unsupported type %T", src)
	}

	parsed, err := ParseCurrency(s)
	if err != nil {
		return fmt.Errorf("scan currency: %w", err)
	}

	*c = parsed

	return nil
}
