package wire

import (
	"errors"
	"testing"
)

func TestDecodeKnownRecords(t *testing.T) {
	testCases := []struct {
		name string
		line string
		kind Kind
		strs map[string]string
		ints map[string]int64
		decs map[string]string
	}{
		{
			name: "darwin_status_with_notes",
			line: "DARWIN_STATUS;CONN_OK;TRUE;Release 2.5.1 build 123",
			kind: KindDarwinStatus,
			strs: map[string]string{"connection": "CONN_OK", "application": "TRUE", "notes": "Release 2.5.1 build 123"},
		},
		{
			name: "darwin_status_without_notes",
			line: "DARWIN_STATUS;CONN_UNAVAILABLE;FALSE",
			kind: KindDarwinStatus,
			strs: map[string]string{"connection": "CONN_UNAVAILABLE", "notes": ""},
		},
		{
			name: "account_info",
			line: "INFOACCOUNT;10:15:00;SIM1234;10000;0;0.0;10000;SIM",
			kind: KindAccountInfo,
			strs: map[string]string{"account": "SIM1234", "account_kind": "SIM"},
			decs: map[string]string{"liquidity": "10000", "equity": "10000"},
		},
		{
			name: "availability",
			line: "AVAILABILITY;10:15:00;5000.50;25002.50;1000;5",
			kind: KindAvailability,
			decs: map[string]string{"cash": "5000.5", "cash_leverage": "25002.5", "margin": "1000"},
		},
		{
			name: "stock",
			line: "STOCK;INTC;10:15:00;100;0;0;50.25;12.5",
			kind: KindStock,
			strs: map[string]string{"symbol": "INTC"},
			ints: map[string]int64{"qty_portfolio": 100, "qty_trading": 0},
			decs: map[string]string{"avg_price": "50.25", "gain": "12.5"},
		},
		{
			name: "order_limit",
			line: "ORDER;INTC;10:15:00;ORD0001;BUY;50.25;0;100;PENDING",
			kind: KindOrder,
			strs: map[string]string{"order_id": "ORD0001", "side": "BUY", "status": "PENDING"},
			ints: map[string]int64{"qty": 100},
			decs: map[string]string{"price": "50.25"},
		},
		{
			name: "order_market_empty_price",
			line: "ORDER;INTC;10:15:00;ORD0002;SELL;;;100;PENDING",
			kind: KindOrder,
			strs: map[string]string{"order_id": "ORD0002", "status": "PENDING"},
			decs: map[string]string{"price": "0"},
		},
		{
			name: "tradok_with_echo",
			line: "TRADOK;INTC;ORD0001;SENT;BUY;100;50.25;0;0;100;REF001;ACQAZ REF001,INTC,100,50.25",
			kind: KindTradOK,
			strs: map[string]string{"status": "SENT", "ref": "REF001", "echo": "ACQAZ REF001,INTC,100,50.25"},
			ints: map[string]int64{"qty": 100, "filled_qty": 0, "remaining_qty": 100},
			decs: map[string]string{"price": "50.25"},
		},
		{
			name: "tradok_without_echo",
			line: "TRADOK;INTC;ORD0001;EXECUTED;BUY;100;50.25;0;100;0;REF001",
			kind: KindTradOK,
			strs: map[string]string{"status": "EXECUTED", "echo": ""},
			ints: map[string]int64{"filled_qty": 100, "remaining_qty": 0},
		},
		{
			name: "traderr",
			line: "TRADERR;INTC;ORD0009;BUY;1002;symbol not tradable",
			kind: KindTradErr,
			strs: map[string]string{"message": "symbol not tradable"},
			ints: map[string]int64{"code": 1002},
		},
		{
			name: "err_empty_portfolio",
			line: "ERR;N/A;1018",
			kind: KindErr,
			strs: map[string]string{"scope": "N/A"},
			ints: map[string]int64{"code": 1018},
		},
		{
			name: "begin_frame",
			line: "BEGIN;ORDERLIST",
			kind: KindBegin,
			strs: map[string]string{"list": "ORDERLIST"},
		},
		{
			name: "candle",
			line: "CANDLE;INTC;20260820;093000;50.10;50.60;49.95;50.40;125000",
			kind: KindCandle,
			strs: map[string]string{"date": "20260820", "time": "093000"},
			ints: map[string]int64{"volume": 125000},
			decs: map[string]string{"open": "50.1", "close": "50.4"},
		},
		{
			name: "tick",
			line: "TBT;INTC;20260820;093001;50.12;300",
			kind: KindTick,
			ints: map[string]int64{"qty": 300},
			decs: map[string]string{"price": "50.12"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := Decode(tc.line)
			if err != nil {
				t.Fatalf("Decode(%q): %v", tc.line, err)
			}
			if rec.Kind() != tc.kind {
				t.Errorf("Expected kind %s, got %s", tc.kind, rec.Kind())
			}
			for name, want := range tc.strs {
				if got := rec.Str(name); got != want {
					t.Errorf("Str(%s): expected %q, got %q", name, want, got)
				}
			}
			for name, want := range tc.ints {
				if got := rec.Int(name); got != want {
					t.Errorf("Int(%s): expected %d, got %d", name, want, got)
				}
			}
			for name, want := range tc.decs {
				if got := rec.Dec(name).String(); got != want {
					t.Errorf("Dec(%s): expected %s, got %s", name, want, got)
				}
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	testCases := []struct {
		name string
		line string
	}{
		{name: "empty_line", line: ""},
		{name: "whitespace_only", line: "   "},
		{name: "missing_required_field", line: "INFOACCOUNT;10:15:00;SIM1234"},
		{name: "bad_int", line: "STOCK;INTC;10:15:00;lots;0;0;50.25;0"},
		{name: "bad_decimal", line: "TRADOK;INTC;ORD1;SENT;BUY;100;fifty;0;0;100;REF"},
		{name: "empty_required", line: "ERR;;1018"},
		{name: "extra_trailing_field", line: "ERR;N/A;1018;surprise"},
		{name: "bad_code", line: "ERR;N/A;abc"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.line)
			if err == nil {
				t.Fatalf("Decode(%q): expected error", tc.line)
			}
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Errorf("Expected *ParseError, got %T: %v", err, err)
			}
		})
	}
}

func TestDecodeTrailingPadding(t *testing.T) {
	rec, err := Decode("ERR;N/A;1019;;")
	if err != nil {
		t.Fatalf("trailing empty fields should decode: %v", err)
	}
	if rec.Int("code") != 1019 {
		t.Errorf("Expected code 1019, got %d", rec.Int("code"))
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	rec, err := Decode("WHATEVER;a;b;c")
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("Expected ErrUnknownKind, got %v", err)
	}
	if rec.Kind() != KindUnknown {
		t.Errorf("Expected KindUnknown, got %s", rec.Kind())
	}
	if rec.Tag() != "WHATEVER" {
		t.Errorf("Expected raw tag preserved, got %q", rec.Tag())
	}
	if len(rec.Fields()) != 3 {
		t.Errorf("Expected 3 raw fields, got %d", len(rec.Fields()))
	}
}

func TestBuildRoundTrip(t *testing.T) {
	rec, err := Build(KindTradOK, map[string]string{
		"symbol":        "INTC",
		"order_id":      "SIM0001",
		"status":        "SENT",
		"side":          "BUY",
		"qty":           "100",
		"price":         "50.25",
		"trigger":       "0",
		"filled_qty":    "0",
		"remaining_qty": "100",
		"ref":           "REF001",
		"echo":          "ACQAZ REF001,INTC,100,50.25",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	back, err := Decode(rec.Line())
	if err != nil {
		t.Fatalf("Decode(Build().Line()): %v", err)
	}
	if back.Str("symbol") != "INTC" || back.Int("qty") != 100 || back.Dec("price").String() != "50.25" {
		t.Errorf("Round trip lost values: %q", back.Line())
	}
	if back.Str("echo") != "ACQAZ REF001,INTC,100,50.25" {
		t.Errorf("Round trip lost echo: %q", back.Str("echo"))
	}
}

func TestBuildRejectsMissingRequired(t *testing.T) {
	_, err := Build(KindErr, map[string]string{"scope": "N/A"})
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected *ParseError for missing code, got %v", err)
	}
}

func TestBuildTrimsTrailingOptionals(t *testing.T) {
	rec, err := Build(KindDarwinStatus, map[string]string{
		"connection":  "CONN_OK",
		"application": "TRUE",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if rec.Line() != "DARWIN_STATUS;CONN_OK;TRUE" {
		t.Errorf("Expected trimmed line, got %q", rec.Line())
	}
}
