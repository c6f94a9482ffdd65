// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

const (
	dialTimeout      = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	tcpKeepAlive     = 30 * time.Second
)

// Connection carries raw eBus symbols in both directions. Bytes written are
// already escaped by the engine; everything read, our own echo included, is
// fed back to it unchanged.
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// ErrConnectionClosed is returned once the remote end has gone away
var ErrConnectionClosed = errors.New("bus connection closed")

// SerialConnection is an eBus adapter on a serial port
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

// TCPConnection is an adapter that forwards the bus symbols over plain TCP
type TCPConnection struct {
	conn net.Conn
}

func (t *TCPConnection) Read(p []byte) (int, error) {
	n, err := t.conn.Read(p)
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return n, ErrConnectionClosed
	}
	return n, err
}

func (t *TCPConnection) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

func (t *TCPConnection) Close() error {
	return t.conn.Close()
}

// WebSocketConnection reads bus symbols from WebSocket messages. Binary
// messages carry the symbols as is, text messages carry them as hex
// ("AA 10 30 ..."), which is what most bridges print.
type WebSocketConnection struct {
	conn    *websocket.Conn
	pending []byte
	closed  bool
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}

	for len(w.pending) == 0 {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, ErrConnectionClosed
		}

		symbols, ok := decodeBusMessage(messageType, data)
		if !ok {
			// Status text from the bridge
			continue
		}
		w.pending = symbols
	}

	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// decodeBusMessage extracts bus symbols from one WebSocket message. Text
// that is not a hex symbol string is reported as not bus data.
func decodeBusMessage(messageType int, data []byte) ([]byte, bool) {
	switch messageType {
	case websocket.BinaryMessage:
		return data, len(data) > 0
	case websocket.TextMessage:
		text := strings.Join(strings.Fields(string(data)), "")
		if text == "" {
			return nil, false
		}
		symbols, err := hex.DecodeString(text)
		if err != nil {
			return nil, false
		}
		return symbols, true
	default:
		return nil, false
	}
}

// OpenSerialConnection opens an eBus serial adapter (8N1, 2400 baud on a real bus)
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
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

// OpenTCPConnection connects to a network adapter exposing the raw bus
func OpenTCPConnection(address string) (Connection, error) {
	dialer := net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: tcpKeepAlive,
	}

	conn, err := dialer.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("TCP connection to %s failed: %w", address, err)
	}

	return &TCPConnection{conn: conn}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
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

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout+handshakeTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword retrieves the bridge password from EBUS_PASSWORD or prompts for it
func GetPassword() (string, error) {
	if pw := os.Getenv("EBUS_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Stdin is not a terminal
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

// OpenConnection opens the transport selected by --url, --tcp or --port, in
// that order of preference
func OpenConnection() (Connection, string, error) {
	switch {
	case wsURL != "":
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil

	case tcpAddress != "":
		conn, err := OpenTCPConnection(tcpAddress)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("TCP: %s", tcpAddress), nil

	case portName != "":
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", errors.New("one of --port, --tcp or --url must be specified")
}
