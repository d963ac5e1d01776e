package price

import (
	"net/url"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/tidwall/gjson"
)

// shape is a known endpoint response layout. locate returns the JSON value holding the price.
type shape struct {
	name   string
	match  func(u *url.URL) bool
	locate func(u *url.URL, root gjson.Result) gjson.Result
}

var shapes = []shape{
	{
		name: "coingecko",
		match: func(u *url.URL) bool {
			return strings.HasSuffix(u.Path, "/simple/price") && u.Query().Get("ids") != ""
		},
		locate: func(u *url.URL, root gjson.Result) gjson.Result {
			q := u.Query()
			id := firstListItem(q.Get("ids"))
			vs := firstListItem(q.Get("vs_currencies"))
			if vs == "" {
				vs = "usd"
			}
			return root.Get(escapePath(strings.ToLower(id)) + "." + escapePath(strings.ToLower(vs)))
		},
	},
	{
		name: "coinbase",
		match: func(u *url.URL) bool {
			return strings.Contains(u.Host, "coinbase.com")
		},
		locate: func(_ *url.URL, root gjson.Result) gjson.Result {
			return root.Get("data.amount")
		},
	},
	{
		name: "kraken",
		match: func(u *url.URL) bool {
			return strings.Contains(u.Host, "kraken.com")
		},
		locate: func(_ *url.URL, root gjson.Result) gjson.Result {
			var last gjson.Result
			root.Get("result").ForEach(func(_, pair gjson.Result) bool {
				last = pair.Get("c.0")
				return false
			})
			return last
		},
	},
	{
		name: "binance",
		match: func(u *url.URL) bool {
			return strings.Contains(u.Host, "binance.com")
		},
		locate: func(_ *url.URL, root gjson.Result) gjson.Result {
			if v := root.Get("price"); v.Exists() {
				return v
			}
			return root.Get("lastPrice")
		},
	},
}

// extract finds the raw price literal in body. Known shapes are tried first, then the generic
// price/value fields. Anything else is a malformed response.
func extract(u *url.URL, body []byte) (string, string, error) {
	if !gjson.ValidBytes(body) {
		return "", "", errorsmod.Wrap(types.ErrMalformedResponse, "response is not valid JSON")
	}

	root := gjson.ParseBytes(body)
	if root.IsArray() {
		root = root.Get("0")
	}
	if !root.IsObject() {
		return "", "", errorsmod.Wrap(types.ErrMalformedResponse, "response is not a JSON object or array of objects")
	}

	for _, s := range shapes {
		if !s.match(u) {
			continue
		}
		if v := s.locate(u, root); v.Exists() {
			raw, err := literal(v)
			return raw, s.name, err
		}
	}

	for _, field := range []string{"price", "value"} {
		if v := root.Get(field); v.Exists() {
			raw, err := literal(v)
			return raw, "generic", err
		}
	}

	return "", "", errorsmod.Wrapf(types.ErrMalformedResponse, "unrecognized response shape from %s", u.Host)
}

// literal returns the exact text of a JSON number or numeric string.
func literal(v gjson.Result) (string, error) {
	switch v.Type {
	case gjson.Number:
		return v.Raw, nil
	case gjson.String:
		return v.Str, nil
	default:
		return "", errorsmod.Wrapf(types.ErrMalformedResponse, "price field is %s, not a number", v.Type)
	}
}

func firstListItem(list string) string {
	return strings.TrimSpace(strings.SplitN(list, ",", 2)[0])
}

func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
