package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	tickerBuffer          = 2048
)

// OkxWsData 适用于 Okx V5 的通用响应结构
type OkxWsData struct {
	Arg struct {
		Channel string `json:"channel"`
		InstId  string `json:"instId"`
	} `json:"arg"`
	Data  json.RawMessage `json:"data"` // 按频道延迟解析
	Event string          `json:"event"`
	Code  string          `json:"code"`
	Msg   string          `json:"msg"`
}

// OkxTradeData 适配 Okx trades 频道数据结构
type OkxTradeData struct {
	Timestamp string `json:"ts"`   // 成交时间 (毫秒字符串)
	Price     string `json:"px"`   // 成交价格
	Size      string `json:"sz"`   // 成交数量
	Side      string `json:"side"` // buy 或 sell (成交方向，用于判断 IsBuyerMaker)
	TradeId   string `json:"tradeId"`
	InstId    string `json:"instId"`
}

// OkxTickerData 结构体，用于解析 tickers 频道数据
type OkxTickerData struct {
	LastPrice string `json:"last"` // 最新成交价 (tickers 频道使用 'last')
	Timestamp string `json:"ts"`
	InstId    string `json:"instId"`
}

// ToInstID 将 BTCUSDT 形式的交易对转换为 Okx 永续合约 instId (BTC-USDT-SWAP)，
// 已经是 instId 形式的原样返回
func ToInstID(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(s, "-") {
		return s
	}
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if base, ok := strings.CutSuffix(s, quote); ok && base != "" {
			return base + "-" + quote + "-SWAP"
		}
	}
	return s
}

type Option func(*Connector)

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Connector) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Connector) { c.logger = l }
}

// Connector 订阅 Okx 公共频道，把成交与 ticker 转换为 model.Ticker
type Connector struct {
	wsURL          string
	instIDs        []string
	tickerChannel  chan model.Ticker
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	logger         *zap.Logger
}

func NewConnector(wsURL string, symbols []string, opts ...Option) *Connector {
	seen := make(map[string]bool, len(symbols))
	instIDs := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		id := ToInstID(symbol)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		instIDs = append(instIDs, id)
	}

	c := &Connector{
		wsURL:          wsURL,
		instIDs:        instIDs,
		tickerChannel:  make(chan model.Ticker, tickerBuffer),
		reconnectDelay: DefaultReconnectDelay,
		dialer:         websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = service.Named(c.logger, "connector")
	c.logger.Info("Connector initialized", zap.Strings("inst_ids", instIDs))
	return c
}

// Tickers 输出通道，Run 返回后关闭
func (c *Connector) Tickers() <-chan model.Ticker {
	return c.tickerChannel
}

// Run 维持 WS 连接直到 ctx 取消，断线后按固定间隔重连
func (c *Connector) Run(ctx context.Context) error {
	defer close(c.tickerChannel)
	if len(c.instIDs) == 0 {
		return errors.New("connector has no symbols to subscribe")
	}

	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			c.logger.Info("Connector stopped")
			return ctx.Err()
		}
		c.logger.Error("WS session ended, reconnecting...",
			zap.Error(err),
			zap.Duration("delay", c.reconnectDelay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Connector) session(ctx context.Context) error {
	c.logger.Info("Connecting to Okx WS...", zap.String("url", c.wsURL))
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	// ctx 取消时关闭连接以打断阻塞的读
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var args []map[string]string
	for _, instID := range c.instIDs {
		args = append(args, map[string]string{"channel": "trades", "instId": instID})
		args = append(args, map[string]string{"channel": "tickers", "instId": instID})
	}
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.logger.Info("Subscribed to Okx trades and tickers streams")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		for _, t := range c.decode(message) {
			select {
			case c.tickerChannel <- t:
			default:
				c.logger.Warn("Ticker channel full, dropping data", zap.String("symbol", t.Symbol))
			}
		}
	}
}

// decode 解析一条 WS 消息，事件消息和无法解析的数据返回空
func (c *Connector) decode(message []byte) []model.Ticker {
	var wsResp OkxWsData
	if err := json.Unmarshal(message, &wsResp); err != nil {
		c.logger.Debug("Ignore non-json WS message", zap.ByteString("message", message))
		return nil
	}
	if wsResp.Event != "" {
		if wsResp.Event == "error" {
			c.logger.Error("Okx WS error event", zap.String("code", wsResp.Code), zap.String("msg", wsResp.Msg))
		}
		return nil
	}

	symbol := wsResp.Arg.InstId
	if symbol == "" || len(wsResp.Data) == 0 {
		return nil
	}

	switch wsResp.Arg.Channel {
	case "trades":
		var trades []OkxTradeData
		if err := json.Unmarshal(wsResp.Data, &trades); err != nil {
			c.logger.Error("Trade data unmarshal error", zap.Error(err))
			return nil
		}
		out := make([]model.Ticker, 0, len(trades))
		for _, tr := range trades {
			price, err := service.StringToFloat(tr.Price)
			if err != nil {
				continue
			}
			volume, err := service.StringToFloat(tr.Size)
			if err != nil {
				continue
			}
			ts, err := service.StringToInt64(tr.Timestamp)
			if err != nil {
				continue
			}
			out = append(out, model.Ticker{
				Symbol:    symbol,
				Timestamp: ts,
				Price:     price,
				Volume:    volume,
				// side=buy 为主动买入，否则为主动卖出
				IsBuyerMaker: tr.Side != "buy",
			})
		}
		return out

	case "tickers":
		var tickers []OkxTickerData
		if err := json.Unmarshal(wsResp.Data, &tickers); err != nil {
			c.logger.Error("Tickers data unmarshal error", zap.Error(err))
			return nil
		}
		if len(tickers) == 0 {
			return nil
		}
		// 仅处理最新的快照
		price, err := service.StringToFloat(tickers[0].LastPrice)
		if err != nil {
			return nil
		}
		ts, _ := service.StringToInt64(tickers[0].Timestamp)
		return []model.Ticker{{Symbol: symbol, Timestamp: ts, Price: price}}
	}
	return nil
}
