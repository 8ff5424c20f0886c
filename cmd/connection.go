// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/sinostat/internal/config"
	"github.com/Thermoquad/sinostat/internal/logger"
	"github.com/Thermoquad/sinostat/pkg/sinowealth"
)

// Connection provides a common interface for reading/writing bytes from serial or WebSocket.
// Read returns (0, nil) when the read timeout expires without data.
// Flush discards received bytes that have not been read yet.
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadTimeout(t time.Duration) error
	Flush() error
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

func (s *SerialConnection) SetReadTimeout(t time.Duration) error {
	return s.port.SetReadTimeout(t)
}

func (s *SerialConnection) Flush() error {
	return s.port.ResetInputBuffer()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketConnection wraps a WebSocket serial bridge. A background reader
// queues binary messages so a read timeout never tears down the socket.
type WebSocketConnection struct {
	conn      *websocket.Conn
	messages  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	readErr   error
	timeout   time.Duration
	buf       []byte
	bufOffset int
}

func newWebSocketConnection(conn *websocket.Conn) *WebSocketConnection {
	w := &WebSocketConnection{
		conn:     conn,
		messages: make(chan []byte, 16),
		done:     make(chan struct{}),
		timeout:  time.Second,
	}
	go w.readLoop()
	return w
}

func (w *WebSocketConnection) readLoop() {
	defer close(w.done)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.readErr = err
			return
		}
		// The bridge forwards UART bytes as binary messages only
		if messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case w.messages <- data:
		default:
			// Nobody is reading; drop stale replies
		}
	}
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	select {
	case data := <-w.messages:
		w.buf = data
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	case <-w.done:
		if w.readErr != nil {
			return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, w.readErr)
		}
		return 0, ErrConnectionClosed
	case <-time.After(w.timeout):
		return 0, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.conn.Close()
	})
	return err
}

func (w *WebSocketConnection) SetReadTimeout(t time.Duration) error {
	w.timeout = t
	return nil
}

// Flush drops the unread part of the current message and any queued messages
func (w *WebSocketConnection) Flush() error {
	w.buf = nil
	w.bufOffset = 0
	for {
		select {
		case <-w.messages:
		default:
			return nil
		}
	}
}

// OpenSerialConnection opens a serial port connection (8N1)
func OpenSerialConnection(portName string, baudRate int) (*SerialConnection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (*WebSocketConnection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketConnection(conn), nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("SINOSTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal; fall back to a plain line read
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenConnection opens either a serial or WebSocket connection from the resolved settings
func OpenConnection(c config.ConnectionConfig) (Connection, string, error) {
	if c.URL != "" {
		password := ""
		if c.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(c.URL, c.Username, password, c.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", c.URL), nil
	}

	if c.Port != "" {
		conn, err := OpenSerialConnection(c.Port, c.Baud)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", c.Port, c.Baud), nil
	}

	return nil, "", errors.New("either --port or --url must be specified")
}

// replyGap is the inter-byte silence that ends a reply once bytes have arrived
const replyGap = 30 * time.Millisecond

// ErrNoReply is returned when the BMS stays silent for a whole reply timeout
var ErrNoReply = errors.New("no reply from BMS")

// RegisterTransport implements sinowealth.Transport over a Connection.
// It writes one command frame and collects the reply until the line goes
// quiet or the maximum reply size is reached.
type RegisterTransport struct {
	conn    Connection
	timeout time.Duration
	gap     time.Duration
	log     *logger.Logger
}

// NewRegisterTransport wraps conn with the given per-register timeout
func NewRegisterTransport(conn Connection, timeout time.Duration, log *logger.Logger) *RegisterTransport {
	if log == nil {
		log = logger.Discard()
	}
	return &RegisterTransport{conn: conn, timeout: timeout, gap: replyGap, log: log}
}

// SendAndReceive implements sinowealth.Transport. lengthHint sizes the
// first read only; replies are variable length.
func (t *RegisterTransport) SendAndReceive(frame []byte, lengthHint int) ([]byte, error) {
	// A late reply to the previous register must not be taken for this one
	if err := t.conn.Flush(); err != nil {
		return nil, fmt.Errorf("flush failed: %w", err)
	}

	t.log.Trace("TX %s", sinowealth.FormatHex(frame))
	if _, err := t.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	if err := t.conn.SetReadTimeout(t.timeout); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	size := max(lengthHint, sinowealth.MaxResponseSize)
	buf := make([]byte, size)
	reply := make([]byte, 0, size)
	for len(reply) < sinowealth.MaxResponseSize {
		n, err := t.conn.Read(buf[:sinowealth.MaxResponseSize-len(reply)])
		if err != nil {
			return nil, fmt.Errorf("read failed: %w", err)
		}
		if n == 0 {
			break
		}
		if len(reply) == 0 {
			if err := t.conn.SetReadTimeout(t.gap); err != nil {
				return nil, fmt.Errorf("set read timeout: %w", err)
			}
		}
		reply = append(reply, buf[:n]...)
	}

	if len(reply) == 0 {
		t.log.Trace("RX timeout after %v", t.timeout)
		return nil, ErrNoReply
	}
	t.log.Trace("RX %s", sinowealth.FormatHex(reply))
	return reply, nil
}

// openEngine connects and wraps the connection in a protocol engine
func openEngine() (*sinowealth.Engine, Connection, string, error) {
	conn, connInfo, err := OpenConnection(cfg.Connection)
	if err != nil {
		return nil, nil, "", err
	}
	transport := NewRegisterTransport(conn, cfg.Timeout(), appLog)
	engine := sinowealth.NewEngine(transport, sinowealth.WithLogger(appLog))
	return engine, conn, connInfo, nil
}
