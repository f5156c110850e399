// darwin-cli walks the client through a short trading session: banner,
// account, one order round-trip, portfolio, and optionally a slice of
// history. It defaults to the simulation so it is safe to run anywhere;
// point it at a live daemon (or darwin-stub) with -mode live.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NiccoloSalvini/directa-api-go/internal/config"
	"github.com/NiccoloSalvini/directa-api-go/internal/hist"
	"github.com/NiccoloSalvini/directa-api-go/internal/observ"
	"github.com/NiccoloSalvini/directa-api-go/internal/trading"
)

func main() {
	var cfgPath, mode, symbol, priceStr string
	var qty int64
	var withHistory bool
	flag.StringVar(&cfgPath, "config", "", "config path (empty uses defaults)")
	flag.StringVar(&mode, "mode", "", "override mode: live or sim")
	flag.StringVar(&symbol, "symbol", "ENI", "symbol to trade")
	flag.Int64Var(&qty, "qty", 10, "order quantity")
	flag.StringVar(&priceStr, "price", "13.50", "limit price")
	flag.BoolVar(&withHistory, "history", false, "also query the historical port (live only)")
	flag.Parse()

	cfg := config.Default()
	if cfgPath != "" {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if mode != "" {
		cfg.Mode = mode
	}

	limit, err := decimal.NewFromString(priceStr)
	if err != nil {
		log.Fatalf("price %q: %v", priceStr, err)
	}

	observ.SetVersion("dev")
	observ.Log("startup", map[string]any{
		"mode":         cfg.Mode,
		"auto_confirm": cfg.AutoConfirm,
		"symbol":       symbol,
	})

	if cfg.HealthAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observ.Handler())
		mux.Handle("/health", observ.Health())
		mux.Handle("/healthz", observ.HealthHandler())
		observ.Log("health_listen", map[string]any{"addr": cfg.HealthAddr})
		go func() { _ = http.ListenAndServe(cfg.HealthAddr, mux) }()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	opts := trading.Options{
		Mode:        trading.Mode(cfg.Mode),
		AutoConfirm: cfg.AutoConfirm,
		Session:     cfg.Trading,
		Sim:         cfg.Sim,
	}
	if err := trading.With(ctx, opts, func(c *trading.Client) error {
		return runDemo(ctx, c, symbol, qty, limit)
	}); err != nil {
		log.Fatalf("trading demo: %v", err)
	}

	if withHistory {
		if cfg.Mode != "live" {
			fmt.Println("history needs -mode live with a daemon or darwin-stub running")
			return
		}
		if err := runHistory(ctx, cfg, symbol); err != nil {
			log.Fatalf("history demo: %v", err)
		}
	}
}

func runDemo(ctx context.Context, c *trading.Client, symbol string, qty int64, limit decimal.Decimal) error {
	st, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	fmt.Printf("platform %s datafeed=%v simulated=%v\n", st.Connection, st.Datafeed, st.Simulated)

	acct, err := c.Account(ctx)
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	fmt.Printf("account %s liquidity=%s equity=%s\n", acct.Account, acct.Liquidity, acct.Equity)

	stop := c.SubscribeOrderUpdates(func(u trading.OrderUpdate) {
		fmt.Printf("update %s %s filled=%d remaining=%d\n", u.OrderID, u.Status.Token(), u.Filled, u.Remaining)
	})
	defer stop()

	res, err := c.BuyLimit(ctx, symbol, qty, limit)
	if err != nil {
		return fmt.Errorf("buy %s: %w", symbol, err)
	}
	if res.Rejected() {
		fmt.Printf("order rejected: %d %s\n", res.Rejection.Code, res.Rejection.Message)
		return nil
	}
	fmt.Printf("order %s %s %d %s @ %s -> %s\n",
		res.OrderID, res.Side.Token(), res.Qty, res.Symbol, res.Price, res.Status.Token())

	pending, err := c.PendingOrders(ctx)
	if err != nil {
		return fmt.Errorf("pending orders: %w", err)
	}
	fmt.Printf("pending orders: %d\n", len(pending))

	if c.Mode() == trading.ModeSim {
		// Fills come from the market in live mode; here we are the market.
		if _, err := c.SimulateOrderExecution(ctx, res.OrderID, decimal.Decimal{}, 0); err != nil {
			return fmt.Errorf("simulate fill: %w", err)
		}
	} else {
		// Leave nothing resting on a real account.
		if _, err := c.CancelOrder(ctx, res.OrderID); err != nil {
			return fmt.Errorf("cancel %s: %w", res.OrderID, err)
		}
		fmt.Printf("order %s cancelled\n", res.OrderID)
	}

	positions, err := c.Portfolio(ctx)
	if err != nil {
		return fmt.Errorf("portfolio: %w", err)
	}
	if len(positions) == 0 {
		fmt.Println("portfolio flat")
	}
	for _, p := range positions {
		fmt.Printf("position %s qty=%d avg=%s gain=%s\n", p.Symbol, p.QtyPortfolio, p.AvgPrice, p.Gain)
	}
	return nil
}

func runHistory(ctx context.Context, cfg config.Root, symbol string) error {
	h := hist.New(cfg.Historical)
	if err := h.Connect(ctx); err != nil {
		return fmt.Errorf("connect historical: %w", err)
	}
	defer h.Close()

	candles, err := h.DailyCandles(ctx, symbol, 5)
	if err != nil {
		return fmt.Errorf("daily candles: %w", err)
	}
	fmt.Printf("candles %s: %d\n", symbol, candles.Len())
	for {
		cd, ok := candles.Next()
		if !ok {
			break
		}
		fmt.Printf("  %s o=%s h=%s l=%s c=%s v=%d\n",
			cd.Timestamp.Format("2006-01-02"), cd.Open, cd.High, cd.Low, cd.Close, cd.Volume)
	}

	ticks, err := h.TickByTick(ctx, symbol, 1)
	if err != nil {
		return fmt.Errorf("ticks: %w", err)
	}
	fmt.Printf("ticks %s: %d\n", symbol, ticks.Len())
	return nil
}
