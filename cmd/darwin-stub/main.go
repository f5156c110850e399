// darwin-stub runs a fake Darwin daemon for local development: one listener
// per daemon port, both backed by the same simulation engine, so orders
// placed through the trading port move positions that the same process
// reports back, while the historical port plays canned candles and ticks.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/NiccoloSalvini/directa-api-go/internal/observ"
	"github.com/NiccoloSalvini/directa-api-go/internal/sim"
	"github.com/NiccoloSalvini/directa-api-go/internal/stubs"
	"github.com/NiccoloSalvini/directa-api-go/internal/wire"
)

func main() {
	var tradingPort, histPort int
	var debugAddr, account string
	var liquidity float64
	var requireConfirm bool
	flag.IntVar(&tradingPort, "trading-port", 10002, "trading listener port")
	flag.IntVar(&histPort, "hist-port", 10003, "historical listener port")
	flag.StringVar(&debugAddr, "debug-addr", "127.0.0.1:8090", "metrics/health listener, empty disables")
	flag.StringVar(&account, "account", "SIM1234", "account code reported by INFOACCOUNT")
	flag.Float64Var(&liquidity, "liquidity", 100000, "starting cash")
	flag.BoolVar(&requireConfirm, "require-confirm", false, "gate orders behind TRADCONFIRM/CONFORD")
	flag.Parse()

	eng := sim.NewEngine(sim.Config{
		Account:        account,
		Liquidity:      liquidity,
		RequireConfirm: requireConfirm,
	})

	trading, err := stubs.Listen(fmt.Sprintf("127.0.0.1:%d", tradingPort), eng)
	if err != nil {
		log.Fatalf("trading listener: %v", err)
	}
	historical, err := stubs.Listen(fmt.Sprintf("127.0.0.1:%d", histPort), eng)
	if err != nil {
		log.Fatalf("historical listener: %v", err)
	}
	seedHistory(historical)

	observ.SetVersion("dev")
	observ.Log("stub_listening", map[string]any{
		"trading":    trading.Addr(),
		"historical": historical.Addr(),
		"account":    account,
	})

	if debugAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observ.Handler())
		mux.Handle("/health", observ.Health())
		mux.Handle("/healthz", observ.HealthHandler())
		observ.Log("debug_listen", map[string]any{"addr": debugAddr})
		go func() {
			if err := http.ListenAndServe(debugAddr, mux); err != nil {
				log.Fatalf("debug listener: %v", err)
			}
		}()
	}

	select {}
}

// seedHistory loads deterministic candle and tick series for a few liquid
// symbols so historical queries answer out of the box.
func seedHistory(d *stubs.Darwin) {
	seeds := []struct {
		symbol string
		base   float64
	}{
		{"ENI", 13.50},
		{"ISP", 3.20},
		{"UCG", 34.80},
	}
	for _, s := range seeds {
		d.SeedCandles(s.symbol, dailyCandles(s.symbol, s.base, 60))
		d.SeedTicks(s.symbol, morningTicks(s.symbol, s.base, 120))
	}
}

// dailyCandles builds n weekday candles ending yesterday. The walk is a
// fixed function of the bar index, so reruns produce the same series.
func dailyCandles(symbol string, base float64, n int) []wire.Record {
	recs := make([]wire.Record, 0, n)
	day := time.Now().AddDate(0, 0, -(n + n/2 + 4))
	for len(recs) < n {
		day = day.AddDate(0, 0, 1)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		i := len(recs)
		open := base
		cls := base * (1 + float64(i%9-4)/400)
		high, low := cls*1.004, open*0.996
		if open > cls {
			high, low = open*1.004, cls*0.996
		}
		recs = append(recs, wire.MustBuild(wire.KindCandle, map[string]string{
			"symbol": symbol,
			"date":   day.Format(wire.DateLayout),
			"time":   "000000",
			"open":   price(open),
			"high":   price(high),
			"low":    price(low),
			"close":  price(cls),
			"volume": strconv.Itoa(100000 + 7000*(i%11)),
		}))
		base = cls
	}
	return recs
}

// morningTicks builds n prints starting at today's open, five seconds apart.
func morningTicks(symbol string, base float64, n int) []wire.Record {
	recs := make([]wire.Record, 0, n)
	now := time.Now()
	at := time.Date(now.Year(), now.Month(), now.Day(), 9, 0, 0, 0, time.Local)
	for i := 0; i < n; i++ {
		px := base * (1 + float64(i%7-3)/2000)
		recs = append(recs, wire.MustBuild(wire.KindTick, map[string]string{
			"symbol": symbol,
			"date":   at.Format(wire.DateLayout),
			"time":   at.Format(wire.TimeLayout),
			"price":  price(px),
			"qty":    strconv.Itoa(250 + 50*(i%5)),
		}))
		at = at.Add(5 * time.Second)
	}
	return recs
}

func price(f float64) string { return strconv.FormatFloat(f, 'f', 2, 64) }
