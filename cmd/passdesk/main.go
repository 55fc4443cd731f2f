// Command passdesk is the front-desk redemption console. It follows the
// server's live feed so passes sold or redeemed at other desks show up here.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/clubdesk/internal/bridge"
	"github.com/dukerupert/clubdesk/internal/config"
	"github.com/dukerupert/clubdesk/internal/console"
	"github.com/dukerupert/clubdesk/internal/logging"
	"github.com/dukerupert/clubdesk/internal/model"
	"github.com/dukerupert/clubdesk/internal/passapi"
	"github.com/dukerupert/clubdesk/internal/redemption"
	"github.com/dukerupert/clubdesk/internal/scanner"
	"github.com/dukerupert/clubdesk/internal/websocket"
)

const usage = `commands:
  list                      show unredeemed passes
  refresh                   reload the list from the server
  search <email>            find passes by purchaser email
  code <pass id or PASS:…>  redeem a typed code
  scan                      arm the scanner; the next line is the scanned code
  redeem <pass id>          redeem a pass from the list or search results
  force <pass id>           ask to redeem a pass already used today
  confirm <pass id>         confirm a pending force redemption
  cancel <pass id>          cancel a pending force redemption
  retry                     repeat the last failed request
  history <pass id>         toggle a pass's redemption history
  refund <pass id>          select a pass for refund
  refund-confirm            refund the selected pass
  sell <email> <uses> [first] [last]
  reset                     start over
  quit`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "passdesk: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadDesk()
	if err != nil {
		return err
	}
	if cfg.Staff == "" || cfg.PIN == "" {
		return errors.New("PASSDESK_STAFF and PASSDESK_PIN are required")
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, "text")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := passapi.NewClient(passapi.Config{
		BaseURL: cfg.APIURL,
		Timeout: cfg.Timeout,
		Retries: cfg.Retries,
	})
	token, err := client.Login(ctx, cfg.Staff, cfg.PIN)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	bus := bridge.New(logger)
	camera := &lineCamera{}
	out := os.Stdout

	view := console.New(client, bus, camera, nil, console.Options{
		Variant:  console.VariantCard,
		Location: cfg.Location,
		Hooks: redemption.Hooks{
			SellNewPass: func(email string) {
				fmt.Fprintf(out, "sell a new pass with: sell %s <uses>\n", orPlaceholder(email))
			},
			BookForGuest: func(h model.PassHolder) {
				fmt.Fprintf(out, "booking hand-off for %s <%s>\n", h.Name(), h.Email)
			},
		},
		ScanStatus: func(s scanner.Status) {
			if s.Message != "" {
				fmt.Fprintf(out, "scanner: %s (%s)\n", s.State, s.Message)
			} else {
				fmt.Fprintf(out, "scanner: %s\n", s.State)
			}
		},
	}, logger)
	defer view.Close()
	view.Redemption.OnChange(func(v redemption.View) { renderRedemption(out, v) })

	if err := view.Open(ctx); err != nil {
		return err
	}
	renderList(out, view.Cache.List())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := websocket.Follow(ctx, websocket.FollowConfig{
			BaseURL:  cfg.APIURL,
			Token:    token,
			ClientID: client.ClientID(),
			NewBackoff: func() retry.Backoff {
				return retry.WithCappedDuration(30*time.Second, retry.NewExponential(time.Second))
			},
		}, bus, logger)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer stop()
		return repl(ctx, os.Stdin, out, view, camera)
	})
	return g.Wait()
}

func repl(ctx context.Context, in io.Reader, out io.Writer, view *console.View, camera *lineCamera) error {
	fmt.Fprintln(out, usage)
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if camera.feed(line) {
			continue
		}
		if quit := dispatch(ctx, out, view, line); quit {
			return nil
		}
	}
}

func dispatch(ctx context.Context, out io.Writer, view *console.View, line string) (quit bool) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	w := view.Redemption

	var err error
	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(out, usage)
	case "list":
		renderList(out, view.Cache.List())
	case "refresh":
		if err = view.Refresh(ctx); err == nil {
			renderList(out, view.Cache.List())
		}
	case "search":
		view.SwitchToEmail()
		err = w.SearchByEmail(ctx, arg)
	case "code":
		view.SwitchToManual()
		err = w.SubmitCode(ctx, arg)
	case "scan":
		err = view.StartScan(ctx)
	case "redeem":
		err = w.Redeem(ctx, arg)
	case "force":
		err = w.RedeemAnyway(arg)
	case "confirm":
		err = w.ConfirmForceRedeem(ctx, arg)
	case "cancel":
		w.CancelForce(arg)
	case "retry":
		err = w.Retry(ctx)
	case "history":
		if err = w.ToggleHistory(ctx, arg); err == nil {
			renderHistory(out, w.View(), arg)
		}
	case "refund":
		view.Refund.Select(arg)
		fmt.Fprintf(out, "refund %s? type refund-confirm to proceed\n", arg)
	case "refund-confirm":
		if err = view.Refund.Confirm(ctx); err == nil {
			if n := view.Refund.View().Notice; n != nil {
				fmt.Fprintln(out, n.Message)
			}
			renderList(out, view.Cache.List())
		}
	case "sell":
		err = sell(ctx, out, view, arg)
	case "reset":
		w.StartOver()
	default:
		fmt.Fprintf(out, "unknown command %q, type help\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
	return false
}

func sell(ctx context.Context, out io.Writer, view *console.View, arg string) error {
	fields := strings.Fields(arg)
	if len(fields) < 2 {
		return errors.New("usage: sell <email> <uses> [first] [last]")
	}
	qty, err := strconv.Atoi(fields[1])
	if err != nil || qty <= 0 {
		return fmt.Errorf("invalid uses %q", fields[1])
	}
	req := model.SellPassRequest{ProductType: "day-pass", Quantity: qty, Email: fields[0]}
	if len(fields) > 2 {
		req.FirstName = fields[2]
	}
	if len(fields) > 3 {
		req.LastName = fields[3]
	}
	p, err := view.SellPass(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "sold %s (%d uses)\n", p.ID, p.Quantity)
	return nil
}

func renderList(out io.Writer, passes []model.Pass) {
	if len(passes) == 0 {
		fmt.Fprintln(out, "no unredeemed passes")
		return
	}
	for _, p := range passes {
		fmt.Fprintf(out, "  %s  %-24s %d/%d left  %s\n",
			p.ID, p.PurchaserName(), p.RemainingUses, p.Quantity, p.PurchasedAt.Local().Format("Jan 2 15:04"))
	}
}

func renderRedemption(out io.Writer, v redemption.View) {
	switch v.State {
	case redemption.StateSearching:
		fmt.Fprintf(out, "searching %s…\n", v.Email)
	case redemption.StateResults:
		renderList(out, v.Results)
	case redemption.StateNoResults:
		fmt.Fprintf(out, "no passes with uses left for %s\n", v.Email)
	case redemption.StateRedeeming:
		fmt.Fprintln(out, "redeeming…")
	case redemption.StateSuccess:
		o := v.Outcome
		if o.Holder != nil {
			fmt.Fprintf(out, "redeemed %s for %s, %d uses left\n", o.PassID, o.Holder.Name(), o.RemainingUses)
		} else {
			fmt.Fprintf(out, "redeemed %s, %d uses left\n", o.PassID, o.RemainingUses)
		}
	case redemption.StateError, redemption.StateSearchError:
		f := v.Failure
		fmt.Fprintf(out, "%s: %s\n", f.Kind, f.Message)
		if d := f.Details; d != nil {
			fmt.Fprintf(out, "  %s  used %d of %d\n", d.Name, d.UsedCount, d.TotalUses)
			if d.RedeemedTodayAt != nil {
				fmt.Fprintf(out, "  already redeemed today at %s\n", d.RedeemedTodayAt.Local().Format("15:04"))
			}
		}
	}
	if len(v.Actions) > 0 {
		names := make([]string, len(v.Actions))
		for i, a := range v.Actions {
			names[i] = string(a)
		}
		fmt.Fprintf(out, "  options: %s\n", strings.Join(names, ", "))
	}
}

func renderHistory(out io.Writer, v redemption.View, passID string) {
	if f := v.HistoryErrors[passID]; f != nil {
		fmt.Fprintf(out, "history: %s\n", f.Message)
		return
	}
	open := false
	for _, id := range v.HistoryOpen {
		open = open || id == passID
	}
	if !open {
		return
	}
	logs := v.History[passID]
	if len(logs) == 0 {
		fmt.Fprintln(out, "  never redeemed")
	}
	for _, l := range logs {
		fmt.Fprintf(out, "  %s  by %s  %s\n", l.RedeemedAt.Local().Format("Jan 2 15:04"), l.RedeemedBy, l.Location)
	}
}

func orPlaceholder(email string) string {
	if email == "" {
		return "<email>"
	}
	return email
}
