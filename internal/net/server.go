package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"njord/internal/common"
	"njord/internal/custody"
	"njord/internal/engine"
	"njord/internal/utils"
)

const (
	maxRecvSize        = 4 * 1024
	defaultConnTimeout = time.Second
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// ClientSession contains relevant information pertaining to an
// individual connected TCP session.
type ClientSession struct {
	conn net.Conn
}

// ClientMessage links a message to the client sending it.
type ClientMessage struct {
	clientAddress string
	conn          net.Conn
	message       Message
}

// Server is the TCP gateway in front of one pool. All engine calls run
// on the session handler goroutine, so the pool sees the strictly
// serialized access it requires.
type Server struct {
	address string
	port    int
	workers int

	pool  *engine.Pool
	clock engine.Clock

	// Owner names map to account capabilities minted on first use; the
	// reverse map routes maker notifications back to sessions.
	accounts   map[string]*custody.AccountCap
	ownerNames map[uuid.UUID]string

	cancel             context.CancelFunc
	workerPool         utils.WorkerPool
	clientSessions     map[string]ClientSession
	clientSessionsLock sync.Mutex
	clientMessages     chan ClientMessage
}

func New(address string, port, workers int, pool *engine.Pool, clock engine.Clock) *Server {
	if clock == nil {
		clock = engine.SystemClock{}
	}
	return &Server{
		address:        address,
		port:           port,
		workers:        workers,
		pool:           pool,
		clock:          clock,
		accounts:       make(map[string]*custody.AccountCap),
		ownerNames:     make(map[uuid.UUID]string),
		workerPool:     utils.NewWorkerPool(workers),
		clientSessions: make(map[string]ClientSession),
		clientMessages: make(chan ClientMessage, 1),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	s.cancel()
}

func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	// Setup a cancel on the context for future shutdown.
	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	// Start the worker pool.
	t.Go(func() error {
		s.workerPool.Setup(t, s.handleConnection)
		return nil
	})

	// Start the session handler.
	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().
		Str("poolID", s.pool.ID().String()).
		Str("pair", fmt.Sprintf("%s/%s", s.pool.BaseAsset(), s.pool.QuoteAsset())).
		Msg("server running")

	// Start accepting connections.
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			log.Info().
				Str("address", conn.RemoteAddr().String()).
				Msg("new client added")

			// Pass over the connection to be read from.
			s.workerPool.AddTask(conn)
		}
	}
}

// Emit lets the server act as an event collector: fills and lazy
// cancellations of resting orders are pushed to the owner's session if
// one is connected.
func (s *Server) Emit(e engine.Event) {
	switch ev := e.(type) {
	case engine.OrderFilled:
		s.reportToOwner(ev.Owner, FillReport{
			OrderID:   ev.OrderID,
			Price:     ev.Price,
			Filled:    ev.BaseAssetQuantityFilled,
			Remaining: ev.BaseAssetQuantityRemaining,
			IsBid:     ev.IsBid,
		}.Serialize())
	case engine.OrderCanceled:
		s.reportToOwner(ev.Owner, CanceledReport{
			OrderID:  ev.OrderID,
			Price:    ev.Price,
			Quantity: ev.BaseAssetQuantityCanceled,
			IsBid:    ev.IsBid,
		}.Serialize())
	}
}

func (s *Server) reportToOwner(owner uuid.UUID, report []byte) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	name, ok := s.ownerNames[owner]
	if !ok {
		return
	}
	client, ok := s.clientSessions[name]
	if !ok {
		return
	}
	if _, err := client.conn.Write(report); err != nil {
		log.Error().Err(err).Str("owner", name).Msg("unable to send report")
		delete(s.clientSessions, name)
	}
}

func (s *Server) report(conn net.Conn, report []byte) {
	if _, err := conn.Write(report); err != nil {
		log.Error().Err(err).Msg("unable to send report")
	}
}

// accountFor mints a capability on a name's first appearance and binds
// the session for maker notifications.
func (s *Server) accountFor(name string, conn net.Conn) *custody.AccountCap {
	cap, ok := s.accounts[name]
	if !ok {
		cap = s.pool.CreateAccount()
		s.accounts[name] = cap
		s.ownerNames[cap.Owner()] = name
	}
	s.clientSessionsLock.Lock()
	s.clientSessions[name] = ClientSession{conn: conn}
	s.clientSessionsLock.Unlock()
	return cap
}

// sessionHandler drains incoming messages and applies them to the
// pool. This is the single goroutine that touches the engine.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-s.clientMessages:
			if err := s.handleMessage(message); err != nil {
				log.Error().
					Err(err).
					Str("clientAddress", message.clientAddress).
					Msg("error handling message")
				s.report(message.conn, ErrorReport{Err: err.Error()}.Serialize())
			}
		}
	}
}

func (s *Server) handleMessage(cm ClientMessage) error {
	if cm.message.GetType() == Heartbeat {
		return nil
	}
	cap := s.accountFor(cm.message.GetOwner(), cm.conn)
	nowMs := s.clock.NowMs()

	switch m := cm.message.(type) {
	case LimitOrderMessage:
		baseFilled, quoteFilled, injected, orderID, err := s.pool.PlaceLimitOrder(
			cap, m.Price, m.Quantity, m.Side == common.Buy,
			m.ExpireTimestampMs, m.Restriction, nowMs)
		if err != nil {
			return err
		}
		s.report(cm.conn, AckReport{
			BaseFilled:  baseFilled,
			QuoteFilled: quoteFilled,
			OrderID:     orderID,
			Injected:    injected,
		}.Serialize())

	case MarketOrderMessage:
		baseFilled, quoteFilled, err := s.placeMarketOrder(cap, m, nowMs)
		if err != nil {
			return err
		}
		s.report(cm.conn, AckReport{BaseFilled: baseFilled, QuoteFilled: quoteFilled}.Serialize())

	case CancelOrderMessage:
		if err := s.pool.CancelOrder(cap, m.OrderID); err != nil {
			return err
		}
		s.report(cm.conn, AckReport{OrderID: m.OrderID}.Serialize())

	case CancelAllMessage:
		if err := s.pool.CancelAllOrders(cap); err != nil {
			return err
		}
		s.report(cm.conn, AckReport{}.Serialize())

	case BatchCancelMessage:
		if err := s.pool.BatchCancelOrders(cap, m.OrderIDs); err != nil {
			return err
		}
		s.report(cm.conn, AckReport{}.Serialize())

	case TransferMessage:
		if err := s.transfer(cap, m); err != nil {
			return err
		}
		s.report(cm.conn, AckReport{}.Serialize())

	case QueryMessage:
		s.query(cm.conn, cap, m, nowMs)

	default:
		log.Error().
			Int("messageType", int(cm.message.GetType())).
			Msg("invalid message type")
		return ErrInvalidMessageType
	}
	return nil
}

// placeMarketOrder bridges the wallet-based market order API: the
// taker's available funds back the order and everything returns to the
// custodian afterwards.
func (s *Server) placeMarketOrder(cap *custody.AccountCap, m MarketOrderMessage, nowMs uint64) (baseFilled, quoteFilled uint64, err error) {
	baseAvail, _, quoteAvail, _ := s.pool.AccountBalance(cap)
	if m.Side == common.Buy {
		quoteWallet, err := s.pool.WithdrawQuote(cap, quoteAvail)
		if err != nil {
			return 0, 0, err
		}
		baseWallet := custody.Zero(s.pool.BaseAsset())
		if err := s.pool.PlaceMarketOrder(m.Quantity, true, nowMs, &baseWallet, &quoteWallet); err != nil {
			// The order never started: return the funding untouched.
			_ = s.pool.DepositQuote(cap, quoteWallet)
			return 0, 0, err
		}
		baseFilled = baseWallet.Value()
		quoteFilled = quoteAvail - quoteWallet.Value()
		if err := s.pool.DepositBase(cap, baseWallet); err != nil {
			return 0, 0, err
		}
		return baseFilled, quoteFilled, s.pool.DepositQuote(cap, quoteWallet)
	}

	baseWallet, err := s.pool.WithdrawBase(cap, baseAvail)
	if err != nil {
		return 0, 0, err
	}
	quoteWallet := custody.Zero(s.pool.QuoteAsset())
	if err := s.pool.PlaceMarketOrder(m.Quantity, false, nowMs, &baseWallet, &quoteWallet); err != nil {
		_ = s.pool.DepositBase(cap, baseWallet)
		return 0, 0, err
	}
	baseFilled = baseAvail - baseWallet.Value()
	quoteFilled = quoteWallet.Value()
	if err := s.pool.DepositBase(cap, baseWallet); err != nil {
		return 0, 0, err
	}
	return baseFilled, quoteFilled, s.pool.DepositQuote(cap, quoteWallet)
}

func (s *Server) transfer(cap *custody.AccountCap, m TransferMessage) error {
	switch m.TypeOf {
	case Deposit:
		if m.Asset == AssetBase {
			return s.pool.DepositBase(cap, custody.NewBalance(s.pool.BaseAsset(), m.Quantity))
		}
		return s.pool.DepositQuote(cap, custody.NewBalance(s.pool.QuoteAsset(), m.Quantity))
	case Withdraw:
		// The withdrawn balance leaves the venue; the gateway is the
		// bridge endpoint, so it is dropped here.
		if m.Asset == AssetBase {
			_, err := s.pool.WithdrawBase(cap, m.Quantity)
			return err
		}
		_, err := s.pool.WithdrawQuote(cap, m.Quantity)
		return err
	}
	return ErrInvalidMessageType
}

func (s *Server) query(conn net.Conn, cap *custody.AccountCap, m QueryMessage, nowMs uint64) {
	switch m.Kind {
	case QueryBalance:
		baseAvail, baseLocked, quoteAvail, quoteLocked := s.pool.AccountBalance(cap)
		s.report(conn, BalanceReport{
			BaseAvail:   baseAvail,
			BaseLocked:  baseLocked,
			QuoteAvail:  quoteAvail,
			QuoteLocked: quoteLocked,
		}.Serialize())
	case QueryOpenOrders:
		s.report(conn, OpenOrdersReport{Orders: s.pool.ListOpenOrders(cap)}.Serialize())
	case QueryMarketPrice:
		bestBid, bestAsk, hasBid, hasAsk := s.pool.MarketPrice()
		s.report(conn, MarketPriceReport{
			BestBid: bestBid,
			BestAsk: bestAsk,
			HasBid:  hasBid,
			HasAsk:  hasAsk,
		}.Serialize())
	case QueryDepth:
		prices, depths := s.pool.Level2BookStatus(m.Side == common.Buy, m.PriceLow, m.PriceHigh, nowMs)
		s.report(conn, DepthReport{Prices: prices, Depths: depths}.Serialize())
	default:
		s.report(conn, ErrorReport{Err: "unknown query kind"}.Serialize())
	}
}

// handleConnection is a short-lived worker method which reads the next
// message off the connection, parses and passes it forward to
// sessionHandler to handle it. This method does not lock any client
// session directly and gives up early if the connection is terminated.
// Note, any error returned from here is fatal.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	// Set max read timeout so a quiet connection cycles back through
	// the pool instead of pinning a worker.
	if err := conn.SetReadDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().
			Str("address", conn.RemoteAddr().String()).
			Err(err).
			Msg("failed setting deadline for connection")
		return nil
	}

	buffer := make([]byte, maxRecvSize)
	select {
	case <-t.Dying():
		return nil
	default:
		n, err := conn.Read(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Idle; requeue for the next read.
				s.workerPool.AddTask(conn)
				return nil
			}
			log.Info().
				Str("address", conn.RemoteAddr().String()).
				Msg("client disconnected")
			if err := conn.Close(); err != nil {
				log.Error().Err(err).Msg("unable to close connection")
			}
			return nil
		}

		message, err := parseMessage(buffer[:n])
		if err != nil {
			log.Error().
				Err(err).
				Str("address", conn.RemoteAddr().String()).
				Msg("error parsing message")
			s.report(conn, ErrorReport{Err: err.Error()}.Serialize())
		} else {
			// Pass over to the message handling buffer.
			s.clientMessages <- ClientMessage{
				message:       message,
				clientAddress: conn.RemoteAddr().String(),
				conn:          conn,
			}
		}

		// Push the client connection back to handle the next message.
		s.workerPool.AddTask(conn)
	}
	return nil
}
