package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"njord/internal/common"
	njordNet "njord/internal/net"
)

func main() {
	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	owner := flag.String("owner", "", "Owner username (compulsory)")
	action := flag.String("action", "limit", "Action: ['limit', 'market', 'cancel', 'cancel-all', 'batch-cancel', 'deposit', 'withdraw', 'balance', 'orders', 'price', 'depth']")

	// Order Parameters
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	priceStr := flag.String("price", "1.0", "Limit price in quote per base (decimal)")
	qtyStr := flag.String("qty", "10", "Quantity in the asset's smallest unit")
	tifStr := flag.String("tif", "none", "Time in force: 'none', 'ioc', 'fok', 'post'")
	expireMs := flag.Uint64("expire", 0, "Expiry as unix ms (0 = never)")

	// Cancel / Transfer Parameters
	orderIDs := flag.String("ids", "", "Order id or comma-separated ids to cancel")
	asset := flag.String("asset", "base", "Transfer asset: 'base' or 'quote'")

	// Depth Parameters
	lowStr := flag.String("low", "0", "Depth range lower price (decimal)")
	highStr := flag.String("high", "1000000", "Depth range upper price (decimal)")

	flag.Parse()

	if *owner == "" {
		fmt.Println("Error: -owner is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as '%s'\n", *serverAddr, *owner)

	// Start Listening for Reports (Async)
	go readReports(conn)

	side := common.Buy
	if strings.ToLower(*sideStr) == "sell" {
		side = common.Sell
	}

	switch strings.ToLower(*action) {
	case "limit":
		expire := *expireMs
		if expire == 0 {
			expire = ^uint64(0)
		}
		err = sendLimitOrder(conn, *owner, parsePrice(*priceStr), parseQty(*qtyStr), expire, side, parseTIF(*tifStr))
	case "market":
		err = sendMarketOrder(conn, *owner, parseQty(*qtyStr), side)
	case "cancel":
		ids := parseOrderIDs(*orderIDs)
		if len(ids) != 1 {
			log.Fatal("Error: -ids must name exactly one order id for 'cancel'")
		}
		err = sendCancelOrder(conn, *owner, ids[0])
	case "cancel-all":
		err = sendSimple(conn, njordNet.CancelAllOrders, *owner)
	case "batch-cancel":
		ids := parseOrderIDs(*orderIDs)
		if len(ids) == 0 {
			log.Fatal("Error: -ids is required for 'batch-cancel'")
		}
		err = sendBatchCancel(conn, *owner, ids)
	case "deposit":
		err = sendTransfer(conn, njordNet.Deposit, *owner, parseAsset(*asset), parseQty(*qtyStr))
	case "withdraw":
		err = sendTransfer(conn, njordNet.Withdraw, *owner, parseAsset(*asset), parseQty(*qtyStr))
	case "balance":
		err = sendQuery(conn, *owner, njordNet.QueryBalance, side, 0, 0)
	case "orders":
		err = sendQuery(conn, *owner, njordNet.QueryOpenOrders, side, 0, 0)
	case "price":
		err = sendQuery(conn, *owner, njordNet.QueryMarketPrice, side, 0, 0)
	case "depth":
		err = sendQuery(conn, *owner, njordNet.QueryDepth, side, parsePrice(*lowStr), parsePrice(*highStr))
	default:
		log.Fatalf("Unknown action: %s", *action)
	}
	if err != nil {
		log.Fatalf("Failed to send %s: %v", *action, err)
	}
	fmt.Printf("-> Sent %s\n", strings.ToUpper(*action))

	// Keep the client alive long enough to receive reports.
	fmt.Println("Listening for reports...")
	time.Sleep(10 * time.Second)
}

// parsePrice converts a human decimal price into the engine's 10^9
// scaled integer representation.
func parsePrice(input string) uint64 {
	d, err := decimal.NewFromString(input)
	if err != nil {
		log.Fatalf("Invalid price %q: %v", input, err)
	}
	scaled := d.Shift(9)
	if !scaled.IsInteger() || scaled.IsNegative() {
		log.Fatalf("Price %q has more than 9 decimal places", input)
	}
	return scaled.BigInt().Uint64()
}

// formatPrice renders a scaled price back as a decimal string.
func formatPrice(price uint64) string {
	return decimal.NewFromUint64(price).Shift(-9).String()
}

func parseQty(input string) uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(input), 10, 64)
	if err != nil {
		log.Fatalf("Invalid quantity %q: %v", input, err)
	}
	return v
}

func parseOrderIDs(input string) []uint64 {
	if input == "" {
		return nil
	}
	var ids []uint64
	for _, p := range strings.Split(input, ",") {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			log.Fatalf("Invalid order id %q: %v", p, err)
		}
		ids = append(ids, v)
	}
	return ids
}

func parseTIF(input string) common.Restriction {
	switch strings.ToLower(input) {
	case "none":
		return common.NoRestriction
	case "ioc":
		return common.ImmediateOrCancel
	case "fok":
		return common.FillOrKill
	case "post":
		return common.PostOrAbort
	}
	log.Fatalf("Unknown time in force: %s", input)
	return common.NoRestriction
}

func parseAsset(input string) njordNet.AssetKind {
	if strings.ToLower(input) == "quote" {
		return njordNet.AssetQuote
	}
	return njordNet.AssetBase
}

// appendOwner writes the trailing length-prefixed owner string.
func appendOwner(buf []byte, owner string) []byte {
	buf = append(buf, uint8(len(owner)))
	return append(buf, owner...)
}

func header(typeOf njordNet.MessageType) []byte {
	buf := make([]byte, 2, 64)
	binary.BigEndian.PutUint16(buf, uint16(typeOf))
	return buf
}

func sendLimitOrder(conn net.Conn, owner string, price, qty, expire uint64, side common.Side, tif common.Restriction) error {
	buf := header(njordNet.LimitOrder)
	buf = binary.BigEndian.AppendUint64(buf, price)
	buf = binary.BigEndian.AppendUint64(buf, qty)
	buf = binary.BigEndian.AppendUint64(buf, expire)
	buf = append(buf, byte(side), byte(tif))
	_, err := conn.Write(appendOwner(buf, owner))
	return err
}

func sendMarketOrder(conn net.Conn, owner string, qty uint64, side common.Side) error {
	buf := header(njordNet.MarketOrder)
	buf = binary.BigEndian.AppendUint64(buf, qty)
	buf = append(buf, byte(side))
	_, err := conn.Write(appendOwner(buf, owner))
	return err
}

func sendCancelOrder(conn net.Conn, owner string, orderID uint64) error {
	buf := header(njordNet.CancelOrder)
	buf = binary.BigEndian.AppendUint64(buf, orderID)
	_, err := conn.Write(appendOwner(buf, owner))
	return err
}

func sendSimple(conn net.Conn, typeOf njordNet.MessageType, owner string) error {
	_, err := conn.Write(appendOwner(header(typeOf), owner))
	return err
}

func sendBatchCancel(conn net.Conn, owner string, ids []uint64) error {
	buf := header(njordNet.BatchCancel)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(ids)))
	for _, id := range ids {
		buf = binary.BigEndian.AppendUint64(buf, id)
	}
	_, err := conn.Write(appendOwner(buf, owner))
	return err
}

func sendTransfer(conn net.Conn, typeOf njordNet.MessageType, owner string, asset njordNet.AssetKind, qty uint64) error {
	buf := header(typeOf)
	buf = append(buf, byte(asset))
	buf = binary.BigEndian.AppendUint64(buf, qty)
	_, err := conn.Write(appendOwner(buf, owner))
	return err
}

func sendQuery(conn net.Conn, owner string, kind njordNet.QueryKind, side common.Side, low, high uint64) error {
	buf := header(njordNet.Query)
	buf = append(buf, byte(kind), byte(side))
	buf = binary.BigEndian.AppendUint64(buf, low)
	buf = binary.BigEndian.AppendUint64(buf, high)
	_, err := conn.Write(appendOwner(buf, owner))
	return err
}

// readReports continuously reads and prints reports from the server.
func readReports(conn net.Conn) {
	for {
		var typeBuf [1]byte
		if _, err := io.ReadFull(conn, typeBuf[:]); err != nil {
			if err != io.EOF {
				log.Printf("Connection lost: %v", err)
			}
			os.Exit(0)
		}

		switch njordNet.ReportType(typeBuf[0]) {
		case njordNet.ReportAck:
			body := readExact(conn, 25)
			fmt.Printf("\n[ACK] baseFilled=%d quoteFilled=%d orderID=%d injected=%t\n",
				binary.BigEndian.Uint64(body[0:8]),
				binary.BigEndian.Uint64(body[8:16]),
				binary.BigEndian.Uint64(body[16:24]),
				body[24] == 1)
		case njordNet.ReportError:
			lenBuf := readExact(conn, 4)
			msg := readExact(conn, int(binary.BigEndian.Uint32(lenBuf)))
			fmt.Printf("\n[SERVER ERROR] %s\n", string(msg))
		case njordNet.ReportFill:
			body := readExact(conn, 33)
			fmt.Printf("\n[FILL] order=%d price=%s filled=%d remaining=%d side=%s\n",
				binary.BigEndian.Uint64(body[0:8]),
				formatPrice(binary.BigEndian.Uint64(body[8:16])),
				binary.BigEndian.Uint64(body[16:24]),
				binary.BigEndian.Uint64(body[24:32]),
				fillSide(body[32]))
		case njordNet.ReportCanceled:
			body := readExact(conn, 25)
			fmt.Printf("\n[CANCELED] order=%d price=%s qty=%d side=%s\n",
				binary.BigEndian.Uint64(body[0:8]),
				formatPrice(binary.BigEndian.Uint64(body[8:16])),
				binary.BigEndian.Uint64(body[16:24]),
				fillSide(body[24]))
		case njordNet.ReportBalance:
			body := readExact(conn, 32)
			fmt.Printf("\n[BALANCE] base=%d(+%d locked) quote=%d(+%d locked)\n",
				binary.BigEndian.Uint64(body[0:8]),
				binary.BigEndian.Uint64(body[8:16]),
				binary.BigEndian.Uint64(body[16:24]),
				binary.BigEndian.Uint64(body[24:32]))
		case njordNet.ReportMarketPrice:
			body := readExact(conn, 18)
			bid, ask := "-", "-"
			if body[16] == 1 {
				bid = formatPrice(binary.BigEndian.Uint64(body[0:8]))
			}
			if body[17] == 1 {
				ask = formatPrice(binary.BigEndian.Uint64(body[8:16]))
			}
			fmt.Printf("\n[MARKET] bid=%s ask=%s\n", bid, ask)
		case njordNet.ReportDepth:
			countBuf := readExact(conn, 2)
			n := int(binary.BigEndian.Uint16(countBuf))
			fmt.Printf("\n[DEPTH] %d levels\n", n)
			for range n {
				body := readExact(conn, 16)
				fmt.Printf("  %s -> %d\n",
					formatPrice(binary.BigEndian.Uint64(body[0:8])),
					binary.BigEndian.Uint64(body[8:16]))
			}
		case njordNet.ReportOpenOrders:
			countBuf := readExact(conn, 2)
			n := int(binary.BigEndian.Uint16(countBuf))
			fmt.Printf("\n[ORDERS] %d open\n", n)
			for range n {
				body := readExact(conn, 25)
				fmt.Printf("  #%d %s %d @ %s\n",
					binary.BigEndian.Uint64(body[0:8]),
					fillSide(body[24]),
					binary.BigEndian.Uint64(body[16:24]),
					formatPrice(binary.BigEndian.Uint64(body[8:16])))
			}
		default:
			log.Printf("Unknown report type: %d", typeBuf[0])
		}
	}
}

func readExact(conn net.Conn, n int) []byte {
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		log.Printf("Error reading report body: %v", err)
		os.Exit(0)
	}
	return buf
}

func fillSide(b byte) string {
	if b == 1 {
		return "BUY"
	}
	return "SELL"
}
