package wire

import "testing"

func TestStatusFromWire(t *testing.T) {
	testCases := []struct {
		in   string
		want OrderStatus
	}{
		{in: "PENDING", want: StatusPending},
		{in: "SENT", want: StatusSent},
		{in: "PARTFILL", want: StatusPartiallyFilled},
		{in: "EXECUTED", want: StatusFilled},
		{in: "CANCELLED", want: StatusCancelled},
		{in: "REJECTED", want: StatusRejected},
		{in: "CONFIRM", want: StatusConfirmRequired},
		{in: "executed", want: StatusFilled},
		{in: " SENT ", want: StatusSent},
		{in: "2000", want: StatusPending},
		{in: "2002", want: StatusConfirmRequired},
		{in: "3001", want: StatusFilled},
		{in: "3002", want: StatusCancelled},
		{in: "3003", want: StatusRejected},
		{in: "CANCEL", want: StatusUnknown},
		{in: "9999", want: StatusUnknown},
		{in: "", want: StatusUnknown},
	}

	for _, tc := range testCases {
		if got := StatusFromWire(tc.in); got != tc.want {
			t.Errorf("StatusFromWire(%q): expected %s, got %s", tc.in, tc.want, got)
		}
	}
}

func TestStatusTokenRoundTrip(t *testing.T) {
	statuses := []OrderStatus{
		StatusPending, StatusSent, StatusPartiallyFilled,
		StatusFilled, StatusCancelled, StatusRejected, StatusConfirmRequired,
	}
	for _, s := range statuses {
		if got := StatusFromWire(s.Token()); got != s {
			t.Errorf("Token round trip for %s: got %s", s, got)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[OrderStatus]bool{
		StatusUnknown:         false,
		StatusPending:         false,
		StatusSent:            false,
		StatusPartiallyFilled: false,
		StatusFilled:          true,
		StatusCancelled:       true,
		StatusRejected:        true,
		StatusConfirmRequired: false,
	}
	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal(): expected %v, got %v", s, want, got)
		}
	}
}

func TestSideFromWire(t *testing.T) {
	testCases := []struct {
		in   string
		want Side
	}{
		{in: "BUY", want: SideBuy},
		{in: "SELL", want: SideSell},
		{in: "buy", want: SideBuy},
		{in: "ACQ", want: SideBuy},
		{in: "VEN", want: SideSell},
		{in: "CANCEL", want: SideUnknown},
		{in: "", want: SideUnknown},
	}
	for _, tc := range testCases {
		if got := SideFromWire(tc.in); got != tc.want {
			t.Errorf("SideFromWire(%q): expected %s, got %s", tc.in, tc.want, got)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	if got := ErrorMessage(1018); got != "empty portfolio" {
		t.Errorf("Expected empty portfolio, got %q", got)
	}
	if got := ErrorMessage(4242); got != "unknown error code 4242" {
		t.Errorf("Expected fallback message, got %q", got)
	}
}

func TestEmptyResultCode(t *testing.T) {
	for _, code := range []int{CodeEmptyPortfolio, CodeNoOrders, CodeNoData} {
		if !EmptyResultCode(code) {
			t.Errorf("Expected %d to be an empty result code", code)
		}
	}
	if EmptyResultCode(CodeOrderNotFound) {
		t.Error("1020 signals a real failure, not an empty result")
	}
	if EmptyResultCode(1000) {
		t.Error("1000 signals a real failure, not an empty result")
	}
}
