package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind identifies a record by its leading tag on the wire.
type Kind string

const (
	KindUnknown      Kind = ""
	KindDarwinStatus Kind = "DARWIN_STATUS"
	KindAccountInfo  Kind = "INFOACCOUNT"
	KindAvailability Kind = "AVAILABILITY"
	KindStock        Kind = "STOCK"
	KindOrder        Kind = "ORDER"
	KindTradOK       Kind = "TRADOK"
	KindTradErr      Kind = "TRADERR"
	KindTradConfirm  Kind = "TRADCONFIRM"
	KindBegin        Kind = "BEGIN"
	KindEnd          Kind = "END"
	KindErr          Kind = "ERR"
	KindCandle       Kind = "CANDLE"
	KindTick         Kind = "TBT"
	KindVolumeAH     Kind = "VOLUME_AH"
)

// List frame names carried by BEGIN/END records.
const (
	ListStocks  = "STOCKLIST"
	ListOrders  = "ORDERLIST"
	ListCandles = "CANDLELIST"
	ListTicks   = "TBTLIST"
)

type fieldType int

const (
	ftString fieldType = iota
	ftInt
	ftDecimal
)

type fieldSpec struct {
	name     string
	typ      fieldType
	optional bool
	rest     bool // consumes the remainder of the line, separators included
}

// schema is the closed set of record layouts. Decode rejects anything that
// does not fit one of these shapes.
var schema = map[Kind][]fieldSpec{
	KindDarwinStatus: {
		{name: "connection", typ: ftString},
		{name: "application", typ: ftString},
		{name: "notes", typ: ftString, optional: true, rest: true},
	},
	KindAccountInfo: {
		{name: "time", typ: ftString},
		{name: "account", typ: ftString},
		{name: "liquidity", typ: ftDecimal},
		{name: "gain", typ: ftDecimal},
		{name: "open_pl", typ: ftDecimal},
		{name: "equity", typ: ftDecimal},
		{name: "account_kind", typ: ftString, optional: true},
	},
	KindAvailability: {
		{name: "time", typ: ftString},
		{name: "cash", typ: ftDecimal},
		{name: "cash_leverage", typ: ftDecimal},
		{name: "margin", typ: ftDecimal},
		{name: "max_leverage", typ: ftDecimal, optional: true},
	},
	KindStock: {
		{name: "symbol", typ: ftString},
		{name: "time", typ: ftString},
		{name: "qty_portfolio", typ: ftInt},
		{name: "qty_trading", typ: ftInt},
		{name: "qty_broker", typ: ftInt},
		{name: "avg_price", typ: ftDecimal},
		{name: "gain", typ: ftDecimal, optional: true},
	},
	KindOrder: {
		{name: "symbol", typ: ftString},
		{name: "time", typ: ftString},
		{name: "order_id", typ: ftString},
		{name: "side", typ: ftString},
		{name: "price", typ: ftDecimal, optional: true}, // empty for market orders
		{name: "trigger", typ: ftDecimal, optional: true},
		{name: "qty", typ: ftInt},
		{name: "status", typ: ftString},
	},
	KindTradOK: {
		{name: "symbol", typ: ftString},
		{name: "order_id", typ: ftString},
		{name: "status", typ: ftString},
		{name: "side", typ: ftString},
		{name: "qty", typ: ftInt},
		{name: "price", typ: ftDecimal},
		{name: "trigger", typ: ftDecimal},
		{name: "filled_qty", typ: ftInt},
		{name: "remaining_qty", typ: ftInt},
		{name: "ref", typ: ftString},
		{name: "echo", typ: ftString, optional: true, rest: true},
	},
	KindTradErr: {
		{name: "symbol", typ: ftString},
		{name: "order_id", typ: ftString},
		{name: "side", typ: ftString},
		{name: "code", typ: ftInt},
		{name: "message", typ: ftString, optional: true, rest: true},
	},
	KindTradConfirm: {
		{name: "symbol", typ: ftString},
		{name: "order_id", typ: ftString},
		{name: "status", typ: ftString},
		{name: "side", typ: ftString},
		{name: "qty", typ: ftInt},
		{name: "price", typ: ftDecimal},
		{name: "trigger", typ: ftDecimal},
		{name: "filled_qty", typ: ftInt},
		{name: "remaining_qty", typ: ftInt},
		{name: "ref", typ: ftString},
		{name: "echo", typ: ftString, optional: true, rest: true},
	},
	KindBegin: {
		{name: "list", typ: ftString},
	},
	KindEnd: {
		{name: "list", typ: ftString},
	},
	KindErr: {
		{name: "scope", typ: ftString},
		{name: "code", typ: ftInt},
	},
	KindCandle: {
		{name: "symbol", typ: ftString},
		{name: "date", typ: ftString},
		{name: "time", typ: ftString},
		{name: "open", typ: ftDecimal},
		{name: "high", typ: ftDecimal},
		{name: "low", typ: ftDecimal},
		{name: "close", typ: ftDecimal},
		{name: "volume", typ: ftInt},
	},
	KindTick: {
		{name: "symbol", typ: ftString},
		{name: "date", typ: ftString},
		{name: "time", typ: ftString},
		{name: "price", typ: ftDecimal},
		{name: "qty", typ: ftInt},
	},
	KindVolumeAH: {
		{name: "state", typ: ftString},
	},
}

// Record is a single decoded line. It is immutable once built; accessors for
// typed fields never fail on a record that came out of Decode.
type Record struct {
	kind   Kind
	tag    string
	values map[string]string
	raw    []string
}

// Kind returns the record kind, KindUnknown for unrecognized tags.
func (r Record) Kind() Kind { return r.kind }

// Tag returns the leading tag as received, which differs from Kind only for
// unknown records.
func (r Record) Tag() string { return r.tag }

// Str returns the named field, or "" when absent.
func (r Record) Str(name string) string { return r.values[name] }

// Int returns the named field as an integer, 0 when absent.
func (r Record) Int(name string) int64 {
	v, _ := strconv.ParseInt(r.values[name], 10, 64)
	return v
}

// Dec returns the named field as a decimal, zero when absent.
func (r Record) Dec(name string) decimal.Decimal {
	if r.values[name] == "" {
		return decimal.Zero
	}
	d, _ := decimal.NewFromString(r.values[name])
	return d
}

// Fields returns a copy of the positional fields after the tag.
func (r Record) Fields() []string {
	out := make([]string, len(r.raw))
	copy(out, r.raw)
	return out
}

// Line renders the record back to its wire form.
func (r Record) Line() string {
	if len(r.raw) == 0 {
		return r.tag
	}
	return r.tag + ";" + strings.Join(r.raw, ";")
}

func (r Record) String() string { return r.Line() }

// Decode parses one line against the schema table. Unknown tags yield a
// KindUnknown record together with ErrUnknownKind so callers can log and
// move on; malformed known records yield a *ParseError.
func Decode(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Record{}, &ParseError{Line: line, Reason: "empty line"}
	}

	parts := strings.Split(line, ";")
	tag := parts[0]
	fields := parts[1:]

	specs, ok := schema[Kind(tag)]
	if !ok {
		rec := Record{kind: KindUnknown, tag: tag, raw: fields, values: map[string]string{}}
		return rec, fmt.Errorf("%w: %q", ErrUnknownKind, tag)
	}

	values := make(map[string]string, len(specs))
	for i, spec := range specs {
		var v string
		switch {
		case spec.rest && i < len(fields):
			v = strings.Join(fields[i:], ";")
		case i < len(fields):
			v = fields[i]
		}
		if v == "" {
			if !spec.optional {
				return Record{}, &ParseError{Line: line, Kind: Kind(tag), Reason: "missing field " + spec.name}
			}
			continue
		}
		if err := checkType(spec, v); err != nil {
			return Record{}, &ParseError{Line: line, Kind: Kind(tag), Reason: err.Error()}
		}
		values[spec.name] = v
	}

	// Anything beyond the schema must be empty padding.
	if last := specs[len(specs)-1]; !last.rest {
		for i := len(specs); i < len(fields); i++ {
			if fields[i] != "" {
				return Record{}, &ParseError{Line: line, Kind: Kind(tag), Reason: "unexpected trailing field " + strconv.Quote(fields[i])}
			}
		}
	}

	return Record{kind: Kind(tag), tag: tag, values: values, raw: fields}, nil
}

func checkType(spec fieldSpec, v string) error {
	switch spec.typ {
	case ftInt:
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("field %s: not an integer: %q", spec.name, v)
		}
	case ftDecimal:
		if _, err := decimal.NewFromString(v); err != nil {
			return fmt.Errorf("field %s: not a decimal: %q", spec.name, v)
		}
	}
	return nil
}

// Build assembles a record of the given kind from named field values,
// validating against the same schema Decode uses. The simulation engine and
// test fixtures use it to synthesize the exact lines a daemon would emit.
func Build(kind Kind, values map[string]string) (Record, error) {
	specs, ok := schema[kind]
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}
	raw := make([]string, 0, len(specs))
	kept := make(map[string]string, len(specs))
	for _, spec := range specs {
		v := values[spec.name]
		if v == "" {
			if !spec.optional {
				return Record{}, &ParseError{Kind: kind, Reason: "missing field " + spec.name}
			}
			raw = append(raw, "")
			continue
		}
		if err := checkType(spec, v); err != nil {
			return Record{}, &ParseError{Kind: kind, Reason: err.Error()}
		}
		raw = append(raw, v)
		kept[spec.name] = v
	}
	// Drop trailing empty optionals so the rendered line matches the daemon's.
	for len(raw) > 0 && raw[len(raw)-1] == "" {
		raw = raw[:len(raw)-1]
	}
	return Record{kind: kind, tag: string(kind), values: kept, raw: raw}, nil
}

// MustBuild is Build for values known to satisfy the schema; it panics on a
// schema violation.
func MustBuild(kind Kind, values map[string]string) Record {
	rec, err := Build(kind, values)
	if err != nil {
		panic(err)
	}
	return rec
}
