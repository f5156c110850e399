// Package stubs provides a protocol-faithful stand-in for the local Darwin
// daemon. It listens on a TCP port, parses the real command vocabulary,
// answers from a sim.Engine and pushes fill records to every connected
// client, so integration tests and demos exercise the same socket path as
// production.
package stubs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/NiccoloSalvini/directa-api-go/internal/sim"
	"github.com/NiccoloSalvini/directa-api-go/internal/wire"
)

// Darwin is one fake daemon listener. The same instance answers both the
// trading and the historical vocabulary; run two of them sharing an engine
// to model the daemon's two ports.
type Darwin struct {
	eng *sim.Engine
	ln  net.Listener

	mu      sync.Mutex
	conns   map[*lockedConn]bool
	candles map[string][]wire.Record
	ticks   map[string][]wire.Record
	closed  bool

	suppressStatus atomic.Bool
	afterHours     atomic.Bool
}

type lockedConn struct {
	mu sync.Mutex
	c  net.Conn
}

func (l *lockedConn) writeLine(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.c, line+"\n")
}

// Listen starts a stub on addr ("127.0.0.1:0" when empty) backed by eng.
func Listen(addr string, eng *sim.Engine) (*Darwin, error) {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("stub listen: %w", err)
	}
	d := &Darwin{
		eng:     eng,
		ln:      ln,
		conns:   make(map[*lockedConn]bool),
		candles: make(map[string][]wire.Record),
		ticks:   make(map[string][]wire.Record),
	}
	go d.acceptLoop()
	return d, nil
}

// Addr returns the listen address.
func (d *Darwin) Addr() string { return d.ln.Addr().String() }

// Port returns the listen port.
func (d *Darwin) Port() int { return d.ln.Addr().(*net.TCPAddr).Port }

// Close stops the listener and drops every client.
func (d *Darwin) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	conns := make([]*lockedConn, 0, len(d.conns))
	for lc := range d.conns {
		conns = append(conns, lc)
	}
	d.mu.Unlock()

	d.ln.Close()
	for _, lc := range conns {
		lc.c.Close()
	}
}

// SuppressStatus makes the stub ignore DARWINSTATUS probes, for driving
// clients into their degraded state.
func (d *Darwin) SuppressStatus(on bool) { d.suppressStatus.Store(on) }

// Inject writes a raw line to every client, malformed input included.
func (d *Darwin) Inject(line string) {
	d.mu.Lock()
	conns := make([]*lockedConn, 0, len(d.conns))
	for lc := range d.conns {
		conns = append(conns, lc)
	}
	d.mu.Unlock()
	for _, lc := range conns {
		lc.writeLine(line)
	}
}

// SeedCandles loads the canned candle series played back for symbol.
func (d *Darwin) SeedCandles(symbol string, recs []wire.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.candles[symbol] = recs
}

// SeedTicks loads the canned tick series played back for symbol.
func (d *Darwin) SeedTicks(symbol string, recs []wire.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ticks[symbol] = recs
}

func (d *Darwin) acceptLoop() {
	for {
		c, err := d.ln.Accept()
		if err != nil {
			return
		}
		lc := &lockedConn{c: c}
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			c.Close()
			return
		}
		d.conns[lc] = true
		d.mu.Unlock()
		go d.serve(lc)
	}
}

func (d *Darwin) serve(lc *lockedConn) {
	defer func() {
		d.mu.Lock()
		delete(d.conns, lc)
		d.mu.Unlock()
		lc.c.Close()
	}()

	// Fills happen engine-side; push them like the daemon does.
	unsub := d.eng.Subscribe(func(rec wire.Record) { lc.writeLine(rec.Line()) })
	defer unsub()

	sc := bufio.NewScanner(lc.c)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		d.handle(lc, line)
	}
}

func (d *Darwin) handle(lc *lockedConn, line string) {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "DARWINSTATUS":
		if d.suppressStatus.Load() {
			return
		}
		lc.writeLine(d.eng.Status().Line())

	case "INFOACCOUNT":
		lc.writeLine(d.eng.AccountInfo().Line())

	case "INFOAVAILABILITY":
		lc.writeLine(d.eng.Availability().Line())

	case "INFOSTOCKS":
		d.sendList(lc, wire.ListStocks, d.eng.Portfolio(), wire.CodeEmptyPortfolio)

	case "GETPOSITION":
		rec, ok := d.eng.Position(rest)
		if !ok {
			d.sendErr(lc, wire.CodeFlatPosition)
			return
		}
		lc.writeLine(rec.Line())

	case "ORDERLIST":
		d.sendList(lc, wire.ListOrders, d.eng.Orders(false, rest), wire.CodeNoOrders)

	case "ORDERLISTPENDING":
		d.sendList(lc, wire.ListOrders, d.eng.Orders(true, ""), wire.CodeNoOrders)

	case "ACQAZ", "VENAZ", "ACQMARKET", "VENMARKET", "ACQSTOP", "VENSTOP",
		"ACQTRAILING", "VENTRAILING", "ACQICE", "VENICE":
		req, err := parseOrder(verb, rest)
		if err != nil {
			d.sendErr(lc, 1011)
			return
		}
		rec, err := d.eng.Place(req)
		if err != nil {
			d.sendErr(lc, 1011)
			return
		}
		lc.writeLine(rec.Line())

	case "REVORD":
		rec, err := d.eng.Cancel(rest)
		if err != nil {
			d.sendOrderErr(lc, err)
			return
		}
		lc.writeLine(rec.Line())

	case "REVALL":
		recs := d.eng.CancelAll(rest)
		if len(recs) == 0 {
			d.sendErr(lc, wire.CodeNoOrders)
			return
		}
		// The real daemon streams these without list framing.
		for _, rec := range recs {
			lc.writeLine(rec.Line())
		}

	case "MODORD":
		id, price, trigger, err := parseModify(rest)
		if err != nil {
			d.sendErr(lc, 1011)
			return
		}
		rec, merr := d.eng.Modify(id, price, trigger)
		if merr != nil {
			d.sendOrderErr(lc, merr)
			return
		}
		lc.writeLine(rec.Line())

	case "CONFORD":
		rec, err := d.eng.Confirm(rest)
		if err != nil {
			d.sendOrderErr(lc, err)
			return
		}
		lc.writeLine(rec.Line())

	case "CANDLE", "DAILYCANDLE", "CANDLERANGE":
		symbol := firstField(rest)
		d.mu.Lock()
		recs := d.candles[symbol]
		d.mu.Unlock()
		d.sendList(lc, wire.ListCandles, recs, wire.CodeNoData)

	case "TBT", "TBTRANGE":
		symbol := firstField(rest)
		d.mu.Lock()
		recs := d.ticks[symbol]
		d.mu.Unlock()
		d.sendList(lc, wire.ListTicks, recs, wire.CodeNoData)

	case "VOLUMEAFTERHOURS":
		on := strings.EqualFold(rest, "ON")
		d.afterHours.Store(on)
		state := "OFF"
		if on {
			state = "ON"
		}
		lc.writeLine(wire.MustBuild(wire.KindVolumeAH, map[string]string{"state": state}).Line())

	default:
		log.Printf("darwin stub: unknown command %q", verb)
		d.sendErr(lc, 1010)
	}
}

func (d *Darwin) sendErr(lc *lockedConn, code int) {
	lc.writeLine(fmt.Sprintf("ERR;N/A;%d", code))
}

func (d *Darwin) sendOrderErr(lc *lockedConn, err error) {
	var notFound *sim.OrderNotFoundError
	if errors.As(err, &notFound) {
		d.sendErr(lc, wire.CodeOrderNotFound)
		return
	}
	var invalid *sim.InvalidStateError
	if errors.As(err, &invalid) {
		d.sendErr(lc, wire.CodeOrderNotCancellable)
		return
	}
	d.sendErr(lc, 1011)
}

func (d *Darwin) sendList(lc *lockedConn, name string, recs []wire.Record, emptyCode int) {
	if len(recs) == 0 {
		d.sendErr(lc, emptyCode)
		return
	}
	lc.writeLine("BEGIN;" + name)
	for _, rec := range recs {
		lc.writeLine(rec.Line())
	}
	lc.writeLine("END;" + name)
}

// parseOrder rebuilds an OrderRequest from a command's verb and argument
// list: ref,symbol,qty and a price or trigger for the order types that
// carry one.
func parseOrder(verb, rest string) (wire.OrderRequest, error) {
	side, typ, err := orderKind(verb)
	if err != nil {
		return wire.OrderRequest{}, err
	}
	parts := strings.Split(rest, ",")
	if len(parts) < 3 {
		return wire.OrderRequest{}, fmt.Errorf("order needs ref,symbol,qty")
	}
	qty, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
	if err != nil {
		return wire.OrderRequest{}, fmt.Errorf("bad qty: %w", err)
	}
	req := wire.OrderRequest{
		Ref:    strings.TrimSpace(parts[0]),
		Symbol: strings.TrimSpace(parts[1]),
		Side:   side,
		Type:   typ,
		Qty:    qty,
	}
	switch typ {
	case wire.OrderTypeMarket:
		if len(parts) != 3 {
			return wire.OrderRequest{}, fmt.Errorf("market orders take no price")
		}
	case wire.OrderTypeStop, wire.OrderTypeTrailingStop:
		if len(parts) != 4 {
			return wire.OrderRequest{}, fmt.Errorf("stop orders need a trigger")
		}
		req.Trigger, err = decimal.NewFromString(strings.TrimSpace(parts[3]))
		if err != nil {
			return wire.OrderRequest{}, fmt.Errorf("bad trigger: %w", err)
		}
	default:
		if len(parts) != 4 {
			return wire.OrderRequest{}, fmt.Errorf("limit orders need a price")
		}
		req.Price, err = decimal.NewFromString(strings.TrimSpace(parts[3]))
		if err != nil {
			return wire.OrderRequest{}, fmt.Errorf("bad price: %w", err)
		}
	}
	return req, nil
}

func orderKind(verb string) (wire.Side, wire.OrderType, error) {
	switch verb {
	case "ACQAZ":
		return wire.SideBuy, wire.OrderTypeLimit, nil
	case "VENAZ":
		return wire.SideSell, wire.OrderTypeLimit, nil
	case "ACQMARKET":
		return wire.SideBuy, wire.OrderTypeMarket, nil
	case "VENMARKET":
		return wire.SideSell, wire.OrderTypeMarket, nil
	case "ACQSTOP":
		return wire.SideBuy, wire.OrderTypeStop, nil
	case "VENSTOP":
		return wire.SideSell, wire.OrderTypeStop, nil
	case "ACQTRAILING":
		return wire.SideBuy, wire.OrderTypeTrailingStop, nil
	case "VENTRAILING":
		return wire.SideSell, wire.OrderTypeTrailingStop, nil
	case "ACQICE":
		return wire.SideBuy, wire.OrderTypeIceberg, nil
	case "VENICE":
		return wire.SideSell, wire.OrderTypeIceberg, nil
	}
	return wire.SideUnknown, wire.OrderTypeUnknown, fmt.Errorf("unknown order verb %q", verb)
}

func parseModify(rest string) (string, decimal.Decimal, decimal.Decimal, error) {
	parts := strings.Split(rest, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return "", decimal.Zero, decimal.Zero, fmt.Errorf("modify needs id,price[,trigger]")
	}
	price, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", decimal.Zero, decimal.Zero, fmt.Errorf("bad price: %w", err)
	}
	trigger := decimal.Zero
	if len(parts) == 3 {
		trigger, err = decimal.NewFromString(strings.TrimSpace(parts[2]))
		if err != nil {
			return "", decimal.Zero, decimal.Zero, fmt.Errorf("bad trigger: %w", err)
		}
	}
	return strings.TrimSpace(parts[0]), price, trigger, nil
}

func firstField(rest string) string {
	if i := strings.IndexByte(rest, ' '); i > 0 {
		return rest[:i]
	}
	return rest
}
