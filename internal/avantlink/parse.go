package avantlink

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
)

// dateLayouts are the input formats observed in AvantLink payloads.
// Output is always canonical YYYY-MM-DD.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
}

// NormalizeDate converts any accepted date representation to a canonical
// YYYY-MM-DD calendar-day string in UTC. Idempotent on canonical input.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", eris.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format("2006-01-02"), nil
		}
	}
	return "", eris.Errorf("unrecognized date format %q", s)
}

// parsePrice extracts a positive price from free text. Currency symbols,
// grouping commas, and whitespace are tolerated. Returns (0, false) for
// missing, unparseable, or non-positive values.
func parsePrice(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// rawRow is a price-history row as scraped from the payload, before any
// validation. Field presence is inconsistent upstream.
type rawRow struct {
	date         string
	retail       string
	sale         string
	changeReason string
}

// xmlRow matches one <Table1> block in the XML response shape.
type xmlRow struct {
	Date   string `xml:"Date"`
	Retail string `xml:"Retail_Price"`
	Sale   string `xml:"Sale_Price"`
}

// looseString decodes a JSON value that is either a string or a number.
type looseString string

func (l *looseString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = looseString(s)
		return nil
	}
	*l = looseString(bytes.TrimSpace(data))
	return nil
}

// jsonPayload matches the JSON response shape.
type jsonPayload struct {
	PricingHistory []jsonRow `json:"pricing_history"`
}

type jsonRow struct {
	Date         looseString `json:"date"`
	Price        looseString `json:"price"`
	RetailPrice  looseString `json:"retail_price"`
	ChangeReason string      `json:"price_change_reason"`
}

// ParsePayload decodes an AvantLink price-history response (XML or JSON,
// sniffed from the first byte) into validated entries. A row is kept iff it
// has a parseable date and at least one positive price; the missing half of
// a price pair is backfilled from the present half. Entries older than the
// retention window before now are dropped. Malformed rows are dropped with
// a warning; only an undecodable document is an error.
func ParsePayload(body []byte, now time.Time, retention time.Duration) ([]PriceEntry, error) {
	var raws []rawRow
	var err error

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '{' || trimmed[0] == '[' {
		raws, err = decodeJSON(trimmed)
	} else {
		raws, err = decodeXML(trimmed)
	}
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-retention).UTC().Format("2006-01-02")

	entries := make([]PriceEntry, 0, len(raws))
	for _, r := range raws {
		entry, ok := validateRow(r, cutoff)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func validateRow(r rawRow, cutoff string) (PriceEntry, bool) {
	date, err := NormalizeDate(r.date)
	if err != nil {
		zap.L().Warn("dropping price row with bad date",
			zap.String("date", r.date), zap.Error(err))
		return PriceEntry{}, false
	}

	retail, haveRetail := parsePrice(r.retail)
	sale, haveSale := parsePrice(r.sale)
	if !haveRetail && !haveSale {
		zap.L().Warn("dropping price row with no usable price", zap.String("date", date))
		return PriceEntry{}, false
	}
	// Backfill the missing half from the present one.
	if !haveRetail {
		retail = sale
	}
	if !haveSale {
		sale = retail
	}

	// Retention applies at the source, not after storage. Canonical date
	// strings compare lexicographically.
	if date < cutoff {
		return PriceEntry{}, false
	}

	return PriceEntry{
		Date:         date,
		Retail:       retail,
		Sale:         sale,
		ChangeReason: r.changeReason,
	}, true
}

func decodeJSON(body []byte) ([]rawRow, error) {
	var payload jsonPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ParseError{Reason: "undecodable JSON document", Err: err}
	}

	raws := make([]rawRow, 0, len(payload.PricingHistory))
	for _, row := range payload.PricingHistory {
		raws = append(raws, rawRow{
			date:         string(row.Date),
			retail:       string(row.RetailPrice),
			sale:         string(row.Price),
			changeReason: row.ChangeReason,
		})
	}
	return raws, nil
}

// decodeXML streams <Table1> elements out of the document, tolerating
// non-UTF8 charsets the way the upstream occasionally emits them.
func decodeXML(body []byte) ([]rawRow, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "avantlink: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var raws []rawRow
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Reason: "undecodable XML document", Err: err}
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Table1" {
			continue
		}

		var row xmlRow
		if err := decoder.DecodeElement(&row, &se); err != nil {
			// One broken block should not sink its siblings.
			zap.L().Warn("dropping undecodable Table1 block", zap.Error(err))
			continue
		}
		raws = append(raws, rawRow{date: row.Date, retail: row.Retail, sale: row.Sale})
	}
	return raws, nil
}
