package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

type Client struct {
	address       string
	conn          net.Conn
	mu            sync.Mutex
	transactionID uint16
	timeout       time.Duration
	connected     bool
}

func NewClient(address string, timeout time.Duration) *Client {
	return &Client{
		address: address,
		timeout: timeout,
	}
}

// Connect stellt TCP-Verbindung her
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.connected {
		return nil
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	c.conn = conn
	c.connected = true

	return nil
}

// Close schließt die Verbindung
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if !c.connected {
		return nil
	}

	err := c.conn.Close()
	c.connected = false
	c.conn = nil

	return err
}

// IsConnected gibt an ob eine Verbindung besteht
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendFrame sendet ein Frame und wartet auf Response. Nach einem I/O-Fehler
// wird die Verbindung verworfen und beim nächsten Aufruf neu aufgebaut.
func (c *Client) SendFrame(ctx context.Context, request *ModbusFrame) (*ModbusFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	// Unique Transaction ID
	c.transactionID++
	request.TransactionID = c.transactionID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("set deadline failed: %w", err)
	}

	if _, err := c.conn.Write(request.Encode()); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("write failed: %w", err)
	}

	header := make([]byte, mbapHeaderLen)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("read failed: %w", err)
	}

	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || mbapHeaderLen+length-1 > maxFrameLen {
		c.closeLocked()
		return nil, fmt.Errorf("invalid frame length %d", length)
	}

	// Length zählt die UnitID mit, die schon im Header steckt
	body := make([]byte, length-1)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("read failed: %w", err)
	}

	response, err := DecodeFrame(append(header, body...))
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	// Transaction ID prüfen
	if response.TransactionID != request.TransactionID {
		return nil, fmt.Errorf("transaction ID mismatch: expected %d, got %d",
			request.TransactionID, response.TransactionID)
	}

	if err := response.Exception(); err != nil {
		return nil, err
	}

	return response, nil
}

// ReadHoldingRegisters liest Holding Registers
func (c *Client) ReadHoldingRegisters(ctx context.Context, unitID uint8, startAddr uint16, quantity uint16) ([]uint16, error) {
	response, err := c.SendFrame(ctx, ReadHoldingRegistersRequest(unitID, startAddr, quantity))
	if err != nil {
		return nil, err
	}

	return response.ParseRegisterResponse()
}

// WriteSingleRegister schreibt ein einzelnes Register
func (c *Client) WriteSingleRegister(ctx context.Context, unitID uint8, addr uint16, value uint16) error {
	_, err := c.SendFrame(ctx, WriteSingleRegisterRequest(unitID, addr, value))
	return err
}

// ReadCoils liest Coils
func (c *Client) ReadCoils(ctx context.Context, unitID uint8, startAddr uint16, quantity uint16) ([]bool, error) {
	response, err := c.SendFrame(ctx, ReadCoilsRequest(unitID, startAddr, quantity))
	if err != nil {
		return nil, err
	}

	return response.ParseCoilResponse(quantity)
}

// WriteSingleCoil schaltet eine einzelne Coil
func (c *Client) WriteSingleCoil(ctx context.Context, unitID uint8, addr uint16, on bool) error {
	_, err := c.SendFrame(ctx, WriteSingleCoilRequest(unitID, addr, on))
	return err
}
