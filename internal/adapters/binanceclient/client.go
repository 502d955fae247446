package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"copyRiskBot/internal/domain"
	"copyRiskBot/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	clientTagPrefix = "crb-"
)

// Client implements the ports.VenueClient interface using the go-binance library.
// Positions are addressed by symbol; the account is expected to run in
// one-way position mode, where the venue keeps at most one position per symbol.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	leverage      int

	mu          sync.Mutex
	meta        map[string]*symbolMeta
	leverageSet map[string]bool
}

// symbolMeta caches the precision needed to format order parameters.
type symbolMeta struct {
	pricePrecision int
	qtyPrecision   int
}

// Config holds configuration specific to the Binance venue adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Leverage   int // applied once per symbol before the first order
	Logger     ports.Logger
}

// New creates a new Binance venue adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		leverage:      cfg.Leverage,
		meta:          make(map[string]*symbolMeta),
		leverageSet:   make(map[string]bool),
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1001: // Internal error
			mappedErr = ports.ErrVenueUnavailable
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1007: // Timeout waiting for response from backend server
			mappedErr = ports.ErrTimeout
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -2014: // API-key format invalid
			mappedErr = ports.ErrAuthenticationFailed
		case -2015: // Invalid API-key, IP, or permissions for action
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010, -2011, -2022: // Order placement/cancel/reduce-only rejected
			mappedErr = ports.ErrVenueRejected
		case -4003, -4014, -4015: // Qty, price or leverage outside permissible range
			mappedErr = ports.ErrVenueRejected
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2019, -3005, -3041, -4047: // Margin or balance insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetAccount retrieves a snapshot of equity, balance and free margin.
func (c *Client) GetAccount(ctx context.Context) (*domain.AccountSnapshot, error) {
	op := "GetAccount"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	equity, err := strconv.ParseFloat(account.TotalMarginBalance, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse margin balance '%s': %w", account.TotalMarginBalance, err)
		return nil, c.handleError(ctx, parseErr, op)
	}
	balance, _ := strconv.ParseFloat(account.TotalWalletBalance, 64)
	free, _ := strconv.ParseFloat(account.AvailableBalance, 64)

	return &domain.AccountSnapshot{
		Equity:     equity,
		Balance:    balance,
		FreeMargin: free,
		At:         time.Now(),
	}, nil
}

// GetQuote retrieves the current top-of-book for a symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	op := "GetQuote"
	tickers, err := c.futuresClient.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no book ticker returned for symbol %s", symbol)
		return nil, c.handleError(ctx, err, op)
	}

	bid, err := strconv.ParseFloat(tickers[0].BidPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse bid '%s': %w", tickers[0].BidPrice, err)
		return nil, c.handleError(ctx, parseErr, op)
	}
	ask, err := strconv.ParseFloat(tickers[0].AskPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse ask '%s': %w", tickers[0].AskPrice, err)
		return nil, c.handleError(ctx, parseErr, op)
	}

	return &domain.Quote{Symbol: symbol, Bid: bid, Ask: ask, At: time.Now()}, nil
}

// GetBars retrieves the most recent count bars, oldest first.
func (c *Client) GetBars(ctx context.Context, symbol, timeframe string, count int) ([]*domain.Bar, error) {
	op := "GetBars"
	interval := binanceInterval(timeframe)
	klines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(count).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	bars := make([]*domain.Bar, 0, len(klines))
	for _, k := range klines {
		bar, err := translateKline(k)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// GetInstrumentFacts retrieves contract and constraint data for a symbol.
// Binance exposes no broker stop or freeze level, so those come back as
// zero and config fallbacks fill them in upstream.
func (c *Client) GetInstrumentFacts(ctx context.Context, symbol string) (*domain.InstrumentFacts, error) {
	op := "GetInstrumentFacts"
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}

		facts := &domain.InstrumentFacts{
			Symbol: symbol,
			Digits: s.PricePrecision,
		}
		if pf := s.PriceFilter(); pf != nil {
			facts.PointSize, _ = strconv.ParseFloat(pf.TickSize, 64)
		}
		if lf := s.LotSizeFilter(); lf != nil {
			facts.QtyStep, _ = strconv.ParseFloat(lf.StepSize, 64)
			facts.MinQty, _ = strconv.ParseFloat(lf.MinQuantity, 64)
			facts.MaxQty, _ = strconv.ParseFloat(lf.MaxQuantity, 64)
		}
		// Linear contract: one unit of quantity earns one point of price
		// move, denominated in the quote currency.
		facts.ValuePerPoint = facts.PointSize

		if mark, err := c.markPrice(ctx, symbol); err == nil && mark > 0 && c.leverage > 0 {
			facts.MarginPerUnit = mark / float64(c.leverage)
		}

		c.mu.Lock()
		c.meta[symbol] = &symbolMeta{pricePrecision: s.PricePrecision, qtyPrecision: s.QuantityPrecision}
		c.mu.Unlock()

		return facts, nil
	}

	err = fmt.Errorf("symbol %s not found in exchange info", symbol)
	return nil, c.handleError(ctx, err, op)
}

// GetOpenPositions lists open positions, optionally filtered by symbol.
func (c *Client) GetOpenPositions(ctx context.Context, symbol string) ([]*ports.VenuePosition, error) {
	op := "GetOpenPositions"
	svc := c.futuresClient.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	positions, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	out := make([]*ports.VenuePosition, 0, len(positions))
	for _, pos := range positions {
		amt, _ := strconv.ParseFloat(pos.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		dir := domain.Long
		if amt < 0 {
			dir = domain.Short
		}
		entry, _ := strconv.ParseFloat(pos.EntryPrice, 64)

		vp := &ports.VenuePosition{
			ID:         pos.Symbol,
			Symbol:     pos.Symbol,
			Direction:  dir,
			Quantity:   math.Abs(amt),
			EntryPrice: entry,
		}
		if stop, target, err := c.protectiveLevels(ctx, pos.Symbol); err == nil {
			vp.StopPrice, vp.TargetPrice = stop, target
		}
		out = append(out, vp)
	}
	return out, nil
}

// PlaceOrder opens a market position and attaches the protective stop
// and, optionally, the target. A position whose stop cannot be placed
// is closed again immediately; it must not live unprotected.
func (c *Client) PlaceOrder(ctx context.Context, spec *ports.OrderSpec) (*ports.OrderResult, error) {
	op := "PlaceOrder"
	meta, err := c.symbolMetaFor(ctx, spec.Symbol)
	if err != nil {
		return nil, err
	}
	if err := c.ensureLeverage(ctx, spec.Symbol); err != nil {
		return nil, err
	}

	entrySide, exitSide := orderSides(spec.Direction)
	qtyStr := formatQty(spec.Quantity, meta)
	tag := spec.ClientTag
	if tag == "" {
		tag = uuid.NewString()
	}

	entry, err := c.futuresClient.NewCreateOrderService().
		Symbol(spec.Symbol).
		Side(entrySide).
		Type(futures.OrderTypeMarket).
		Quantity(qtyStr).
		NewClientOrderID(clientTagPrefix + tag).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	fillPrice, _ := strconv.ParseFloat(entry.AvgPrice, 64)
	filledQty, _ := strconv.ParseFloat(entry.ExecutedQuantity, 64)
	if filledQty <= 0 {
		filledQty = spec.Quantity
	}

	_, err = c.futuresClient.NewCreateOrderService().
		Symbol(spec.Symbol).
		Side(exitSide).
		Type(futures.OrderTypeStopMarket).
		StopPrice(formatPrice(spec.StopPrice, meta)).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		stopErr := c.handleError(ctx, err, op+" protective stop")
		if closeErr := c.emergencyClose(ctx, spec.Symbol, exitSide, qtyStr); closeErr != nil {
			c.logger.Error(ctx, closeErr, op+": emergency close after stop failure also failed", map[string]interface{}{
				"symbol":   spec.Symbol,
				"quantity": qtyStr,
			})
		} else {
			c.logger.Warn(ctx, op+": position closed after protective stop could not be placed", map[string]interface{}{
				"symbol": spec.Symbol,
			})
		}
		return nil, stopErr
	}

	if spec.TargetPrice > 0 {
		_, err = c.futuresClient.NewCreateOrderService().
			Symbol(spec.Symbol).
			Side(exitSide).
			Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(formatPrice(spec.TargetPrice, meta)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			// The stop is in place; a missing target is not fatal.
			c.logger.Warn(ctx, op+": target order failed, position protected by stop only", map[string]interface{}{
				"symbol": spec.Symbol,
				"target": spec.TargetPrice,
				"error":  err.Error(),
			})
		}
	}

	placedAt := time.Now()
	if entry.UpdateTime > 0 {
		placedAt = time.UnixMilli(entry.UpdateTime)
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":    spec.Symbol,
		"direction": spec.Direction,
		"quantity":  qtyStr,
		"fillPrice": fillPrice,
		"stop":      spec.StopPrice,
		"target":    spec.TargetPrice,
		"orderID":   entry.OrderID,
	})

	return &ports.OrderResult{
		PositionID: spec.Symbol,
		FillPrice:  fillPrice,
		Quantity:   filledQty,
		PlacedAt:   placedAt,
	}, nil
}

// ModifyStopTarget replaces the protective orders on an open position.
// The new orders are placed before the old ones are canceled so the
// position is never left without a stop.
func (c *Client) ModifyStopTarget(ctx context.Context, positionID string, stopPrice, targetPrice float64) error {
	op := "ModifyStopTarget"
	symbol := positionID
	meta, err := c.symbolMetaFor(ctx, symbol)
	if err != nil {
		return err
	}

	pos, err := c.livePosition(ctx, symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		return fmt.Errorf("%s failed: %w: no open position for %s", op, ports.ErrPositionNotFound, symbol)
	}
	_, exitSide := orderSides(pos.direction)

	existing, err := c.protectiveOrders(ctx, symbol)
	if err != nil {
		return err
	}

	_, err = c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(exitSide).
		Type(futures.OrderTypeStopMarket).
		StopPrice(formatPrice(stopPrice, meta)).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op+" stop")
	}

	if targetPrice > 0 {
		_, err = c.futuresClient.NewCreateOrderService().
			Symbol(symbol).
			Side(exitSide).
			Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(formatPrice(targetPrice, meta)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			c.logger.Warn(ctx, op+": replacement target failed", map[string]interface{}{
				"symbol": symbol,
				"target": targetPrice,
				"error":  err.Error(),
			})
		}
	}

	for _, o := range existing {
		_, err := c.futuresClient.NewCancelOrderService().Symbol(symbol).OrderID(o.OrderID).Do(ctx)
		if err != nil {
			cancelErr := c.handleError(ctx, err, op+" cancel old order")
			if !errors.Is(cancelErr, ports.ErrOrderNotFound) {
				return cancelErr
			}
		}
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol,
		"stop":   stopPrice,
		"target": targetPrice,
	})
	return nil
}

// ClosePosition closes the given fraction of an open position at market.
func (c *Client) ClosePosition(ctx context.Context, positionID string, fraction float64) error {
	op := "ClosePosition"
	symbol := positionID
	if fraction <= 0 || fraction > 1 {
		return fmt.Errorf("%s failed: %w: fraction %v out of range", op, ports.ErrInvalidRequest, fraction)
	}
	meta, err := c.symbolMetaFor(ctx, symbol)
	if err != nil {
		return err
	}

	pos, err := c.livePosition(ctx, symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		return fmt.Errorf("%s failed: %w: no open position for %s", op, ports.ErrPositionNotFound, symbol)
	}
	_, exitSide := orderSides(pos.direction)

	qty := pos.quantity * fraction
	qtyStr := formatQty(qty, meta)

	_, err = c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(exitSide).
		Type(futures.OrderTypeMarket).
		Quantity(qtyStr).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}

	if fraction >= 1 {
		// Protective orders do not die with the position; clean them up.
		if err := c.futuresClient.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
			c.logger.Warn(ctx, op+": failed to cancel protective orders after full close", map[string]interface{}{
				"symbol": symbol,
				"error":  err.Error(),
			})
		}
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":   symbol,
		"fraction": fraction,
		"quantity": qtyStr,
	})
	return nil
}

// --- Internal Helpers ---

// livePosition is the venue's current position for a symbol; nil when flat.
type livePosition struct {
	symbol    string
	direction domain.Direction
	quantity  float64
	entry     float64
}

func (c *Client) livePosition(ctx context.Context, symbol string) (*livePosition, error) {
	op := "GetPositionRisk"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	for _, pos := range positions {
		amt, _ := strconv.ParseFloat(pos.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		dir := domain.Long
		if amt < 0 {
			dir = domain.Short
		}
		entry, _ := strconv.ParseFloat(pos.EntryPrice, 64)
		return &livePosition{symbol: pos.Symbol, direction: dir, quantity: math.Abs(amt), entry: entry}, nil
	}
	return nil, nil // Flat is not an error
}

// protectiveOrders returns the open conditional close orders for a symbol.
func (c *Client) protectiveOrders(ctx context.Context, symbol string) ([]*futures.Order, error) {
	op := "ListProtectiveOrders"
	orders, err := c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]*futures.Order, 0, 2)
	for _, o := range orders {
		if o.Type == futures.OrderTypeStopMarket || o.Type == futures.OrderTypeTakeProfitMarket {
			out = append(out, o)
		}
	}
	return out, nil
}

// protectiveLevels extracts the stop and target prices from the open
// conditional orders of a symbol.
func (c *Client) protectiveLevels(ctx context.Context, symbol string) (stop, target float64, err error) {
	orders, err := c.protectiveOrders(ctx, symbol)
	if err != nil {
		return 0, 0, err
	}
	for _, o := range orders {
		price, _ := strconv.ParseFloat(o.StopPrice, 64)
		switch o.Type {
		case futures.OrderTypeStopMarket:
			stop = price
		case futures.OrderTypeTakeProfitMarket:
			target = price
		}
	}
	return stop, target, nil
}

func (c *Client) emergencyClose(ctx context.Context, symbol string, side futures.SideType, quantity string) error {
	_, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(quantity).
		ReduceOnly(true).
		Do(ctx)
	return err
}

// ensureLeverage applies the configured leverage once per symbol.
func (c *Client) ensureLeverage(ctx context.Context, symbol string) error {
	if c.leverage <= 0 {
		return nil
	}
	c.mu.Lock()
	done := c.leverageSet[symbol]
	c.mu.Unlock()
	if done {
		return nil
	}

	op := "SetLeverage"
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(c.leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}

	c.mu.Lock()
	c.leverageSet[symbol] = true
	c.mu.Unlock()
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": c.leverage})
	return nil
}

// symbolMetaFor returns cached formatting precision, fetching exchange
// info on first use.
func (c *Client) symbolMetaFor(ctx context.Context, symbol string) (*symbolMeta, error) {
	c.mu.Lock()
	meta, ok := c.meta[symbol]
	c.mu.Unlock()
	if ok {
		return meta, nil
	}

	if _, err := c.GetInstrumentFacts(ctx, symbol); err != nil {
		return nil, err
	}

	c.mu.Lock()
	meta, ok = c.meta[symbol]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("precision for %s missing after exchange info fetch: %w", symbol, ports.ErrUnknown)
	}
	return meta, nil
}

func (c *Client) markPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetMarkPrice"
	tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no price data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op)
	}

	price, err := strconv.ParseFloat(tickers[0].MarkPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].MarkPrice, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// --- Translation Helpers ---

// orderSides returns the entry and exit order sides for a direction.
func orderSides(d domain.Direction) (entry, exit futures.SideType) {
	if d == domain.Short {
		return futures.SideTypeSell, futures.SideTypeBuy
	}
	return futures.SideTypeBuy, futures.SideTypeSell
}

// binanceInterval maps terminal-style timeframes onto Binance kline
// intervals. Unknown values pass through untouched.
func binanceInterval(timeframe string) string {
	switch strings.ToUpper(strings.TrimSpace(timeframe)) {
	case "M1":
		return "1m"
	case "M5":
		return "5m"
	case "M15":
		return "15m"
	case "M30":
		return "30m"
	case "H1":
		return "1h"
	case "H4":
		return "4h"
	case "D1":
		return "1d"
	default:
		return timeframe
	}
}

func translateKline(k *futures.Kline) (*domain.Bar, error) {
	if k == nil {
		return nil, errors.New("received nil kline")
	}
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}

	return &domain.Bar{
		Time:  time.UnixMilli(k.OpenTime),
		Open:  open,
		High:  high,
		Low:   low,
		Close: cls,
	}, nil
}

func formatQty(qty float64, meta *symbolMeta) string {
	// Floor, never round up; an oversized quantity gets rejected.
	pow := math.Pow(10, float64(meta.qtyPrecision))
	return strconv.FormatFloat(math.Floor(qty*pow+1e-9)/pow, 'f', meta.qtyPrecision, 64)
}

func formatPrice(price float64, meta *symbolMeta) string {
	return strconv.FormatFloat(price, 'f', meta.pricePrecision, 64)
}
