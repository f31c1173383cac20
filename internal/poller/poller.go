package poller

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"MarginVenue/internal/command"
	"MarginVenue/internal/observability"
)

// DefaultExchangeURL is the Backpack exchange websocket endpoint.
const DefaultExchangeURL = "wss://ws.backpack.exchange"

// DefaultFlushInterval batches ticks so the command log sees at most one
// price_update per asset per interval.
const DefaultFlushInterval = 100 * time.Millisecond

// symbolInfo maps an exchange symbol to the venue asset and price scale.
type symbolInfo struct {
	Asset    string
	Decimals int32
}

// Symbols lists the tracked markets. Price decimals differ per asset to
// keep integer prices in a comfortable range.
var Symbols = map[string]symbolInfo{
	"BTC_USDC": {Asset: "BTC", Decimals: 4},
	"SOL_USDC": {Asset: "SOL", Decimals: 6},
	"ETH_USDC": {Asset: "ETH", Decimals: 4},
}

// Publisher appends a command to the command log.
type Publisher interface {
	Publish(ctx context.Context, cmd command.Command) error
}

// Poller maintains a websocket subscription to the exchange book tickers,
// keeps the latest mid price per asset, and flushes the accumulated ticks
// into the command log on a fixed interval.
type Poller struct {
	url           string
	publisher     Publisher
	flushInterval time.Duration
	log           zerolog.Logger
	metrics       *observability.Metrics

	mu     sync.Mutex
	latest map[string]command.PriceTick
}

func New(url string, publisher Publisher, flushInterval time.Duration, log zerolog.Logger, metrics *observability.Metrics) *Poller {
	if url == "" {
		url = DefaultExchangeURL
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Poller{
		url:           url,
		publisher:     publisher,
		flushInterval: flushInterval,
		log:           log,
		metrics:       metrics,
		latest:        make(map[string]command.PriceTick),
	}
}

// Run starts the flush loop and the websocket read loop with reconnects.
// Blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	go p.flushLoop(ctx)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := p.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.metrics.PollerReconnects.Inc()
			p.log.Warn().Err(err).Dur("backoff", backoff).Msg("exchange socket lost, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

type subscribeMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type tickerMessage struct {
	Data struct {
		Symbol string `json:"s"`
		Ask    string `json:"a"`
		Bid    string `json:"b"`
	} `json:"data"`
}

func (p *Poller) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	params := make([]string, 0, len(Symbols))
	for symbol := range Symbols {
		params = append(params, "bookTicker."+symbol)
	}
	sub := subscribeMessage{Method: "SUBSCRIBE", Params: params}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	p.log.Info().Str("url", p.url).Strs("params", params).Msg("subscribed to exchange feed")

	// Unblock ReadMessage when shutting down.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		p.handleMessage(raw)
	}
}

func (p *Poller) handleMessage(raw []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		p.log.Debug().Err(err).Msg("skipping unparseable feed message")
		return
	}

	info, ok := Symbols[msg.Data.Symbol]
	if !ok || msg.Data.Ask == "" || msg.Data.Bid == "" {
		return
	}

	ask, err := strconv.ParseFloat(msg.Data.Ask, 64)
	if err != nil {
		return
	}
	bid, err := strconv.ParseFloat(msg.Data.Bid, 64)
	if err != nil {
		return
	}

	mid := (ask + bid) / 2
	price := int64(math.Round(mid * math.Pow10(int(info.Decimals))))

	p.mu.Lock()
	p.latest[info.Asset] = command.PriceTick{
		Asset:   info.Asset,
		Price:   price,
		Decimal: info.Decimals,
	}
	p.mu.Unlock()

	p.metrics.PollerTicksReceived.WithLabelValues(info.Asset).Inc()
}

func (p *Poller) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

// flush publishes the accumulated ticks as one price_update and clears the
// map. An empty interval publishes nothing.
func (p *Poller) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.latest) == 0 {
		p.mu.Unlock()
		return
	}
	updates := make([]command.PriceTick, 0, len(p.latest))
	for _, tick := range p.latest {
		updates = append(updates, tick)
	}
	p.latest = make(map[string]command.PriceTick)
	p.mu.Unlock()

	cmd := &command.PriceUpdate{Updates: updates}
	if err := p.publisher.Publish(ctx, cmd); err != nil {
		p.log.Warn().Err(err).Int("ticks", len(updates)).Msg("price batch publish failed")
		return
	}

	p.metrics.PollerBatchesFlushed.Inc()
	p.metrics.PollerBatchSize.Observe(float64(len(updates)))
}
