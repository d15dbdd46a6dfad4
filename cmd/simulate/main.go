package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"storefront-engine/internal/domain"
	"storefront-engine/internal/infrastructure/idempotency"
	"storefront-engine/internal/infrastructure/payment"
	"storefront-engine/internal/logging"
	"storefront-engine/internal/metrics"
	"storefront-engine/internal/repo/memory"
	"storefront-engine/internal/service"
	"storefront-engine/internal/worker"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// simulate drives the engine in-process against the sandbox gateway: buyers
// race for a scarce variant, every payment is delivered twice (client callback
// and webhook, concurrently), some orders are cancelled and some abandoned.
func main() {
	buyers := flag.Int("buyers", 20, "number of concurrent buyers")
	stock := flag.Int("stock", 10, "initial stock of the contested variant")
	cancelEvery := flag.Int("cancel-every", 4, "cancel every n-th confirmed order (0 disables)")
	abandonEvery := flag.Int("abandon-every", 5, "never pay every n-th order (0 disables)")
	declineRate := flag.Float64("refund-decline-rate", 0.1, "chance a refund is declined")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	log := logging.New(*level)
	if err := simulate(context.Background(), log, *buyers, *stock, *cancelEvery, *abandonEvery, *declineRate); err != nil {
		log.Error("simulation failed", "err", err)
		os.Exit(1)
	}
}

func simulate(ctx context.Context, log *slog.Logger, buyers, initial, cancelEvery, abandonEvery int, declineRate float64) error {
	store := memory.NewStore()
	gw := payment.NewSandbox("sim_key_secret", "sim_webhook_secret")
	gw.RefundDeclineRate = declineRate
	gw.Latency = 5 * time.Millisecond
	m := metrics.New(prometheus.NewRegistry())

	orders := service.NewOrderService(store, gw, log, 50*time.Millisecond)
	finalizer := service.NewOrderFinalizer(store, log, m)
	canceller := service.NewCancellationCoordinator(store, gw, log, m, time.Second)
	payments := service.NewPaymentService(gw, finalizer, canceller, idempotency.NewMemoryStore(time.Hour), log)

	variant := domain.Variant{ProductID: uuid.New(), Size: "M", Color: "black", Stock: initial}
	if err := store.Stock().Put(ctx, variant); err != nil {
		return err
	}

	fmt.Printf("--- %d buyers, %d units of %s/%s ---\n", buyers, initial, variant.Size, variant.Color)

	var (
		mu       sync.Mutex
		tally    = map[string]int{}
		wg       sync.WaitGroup
		placed   []uuid.UUID
		quantity = func(i int) int { return 1 + i%2 }
	)
	count := func(k string) {
		mu.Lock()
		tally[k]++
		mu.Unlock()
	}

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order, err := orders.Checkout(ctx, service.CheckoutRequest{
				UserID:    uuid.New(),
				AddressID: uuid.New(),
				Currency:  "INR",
				Lines: []domain.OrderLine{{
					ProductID: variant.ProductID, Size: variant.Size, Color: variant.Color,
					Quantity: quantity(i), UnitPrice: 49900,
				}},
			})
			if err != nil {
				count("checkout_failed")
				return
			}
			mu.Lock()
			placed = append(placed, order.ID)
			mu.Unlock()

			if abandonEvery > 0 && i%abandonEvery == abandonEvery-1 {
				count("abandoned")
				return
			}

			p, sig, err := gw.Capture(order.Payment.GatewayOrderID)
			if err != nil {
				count("capture_failed")
				return
			}
			body, hookSig, err := gw.WebhookFor(p)
			if err != nil {
				count("capture_failed")
				return
			}

			var inner sync.WaitGroup
			inner.Add(2)
			go func() {
				defer inner.Done()
				_, _ = payments.FinalizeFromClientCallback(ctx, p.OrderID, p.ID, sig)
			}()
			go func() {
				defer inner.Done()
				_, _ = payments.FinalizeFromWebhook(ctx, body, hookSig, "evt_"+p.ID)
			}()
			inner.Wait()

			cur, err := orders.Get(ctx, order.ID)
			if err != nil || !cur.Finalized() {
				count("paid_but_unfulfilled")
				return
			}
			count("confirmed")

			if cancelEvery > 0 && i%cancelEvery == 0 {
				_, err := payments.CancelOrder(ctx, order.ID, "simulated change of mind")
				switch {
				case err == nil:
					count("cancelled")
				case errors.Is(err, domain.ErrRefundFailed):
					count("refund_declined")
				default:
					count("cancel_failed")
				}
			}
		}(i)
	}
	wg.Wait()

	time.Sleep(60 * time.Millisecond)
	sweeper := worker.NewExpirySweeper(store, log, m, time.Second, 100)
	expired, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}

	left, err := store.Stock().Get(ctx, variant.ProductID, variant.Size, variant.Color)
	if err != nil {
		return err
	}

	held := 0
	for _, id := range placed {
		o, err := orders.Get(ctx, id)
		if err != nil {
			return err
		}
		if o.StockDeducted && !o.StockRestored {
			for _, l := range o.Lines {
				held += l.Quantity
			}
		}
	}
	recs, err := orders.Reconciliations(ctx, 500)
	if err != nil {
		return err
	}

	for _, k := range []string{"confirmed", "cancelled", "refund_declined", "paid_but_unfulfilled", "abandoned", "checkout_failed", "capture_failed", "cancel_failed"} {
		fmt.Printf("%-22s %d\n", k, tally[k])
	}
	fmt.Printf("%-22s %d\n", "expired", expired)
	fmt.Printf("%-22s %d\n", "reconciliations", len(recs))
	fmt.Printf("%-22s %d\n", "refund calls", gw.RefundCalls())
	fmt.Printf("%-22s %d\n", "events", len(store.Events()))
	fmt.Printf("stock: initial=%d remaining=%d held by orders=%d\n", initial, left.Stock, held)

	if left.Stock+held != initial || left.Stock < 0 {
		return fmt.Errorf("stock not conserved: %d remaining + %d held != %d", left.Stock, held, initial)
	}
	fmt.Println("stock conserved")
	return nil
}
