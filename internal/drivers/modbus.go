package drivers

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"

	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"go.uber.org/zap"
)

const (
	defaultModbusPort = 502
	defaultPWMScale   = 1000
)

// ModbusConn is the part of the Modbus TCP client the drivers use.
type ModbusConn interface {
	Connect(ctx context.Context) error
	Close() error
	ReadCoils(ctx context.Context, unitID uint8, startAddr uint16, quantity uint16) ([]bool, error)
	WriteSingleCoil(ctx context.Context, unitID uint8, addr uint16, on bool) error
	WriteSingleRegister(ctx context.Context, unitID uint8, addr uint16, value uint16) error
}

type modbusOptions struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	UnitID  uint8  `json:"unit_id"`
	Address uint16 `json:"address"`
	Scale   uint16 `json:"scale"`
}

func (o modbusOptions) address() string {
	port := o.Port
	if port == 0 {
		port = defaultModbusPort
	}
	return net.JoinHostPort(o.Host, strconv.Itoa(port))
}

// modbusBase connects to one coil or register of a Modbus TCP device.
type modbusBase struct {
	mu     sync.Mutex
	conn   ModbusConn
	opts   modbusOptions
	setup  bool
	logger *zap.Logger
}

func newModbusBase(f *Factory, options map[string]any, logger *zap.Logger) (*modbusBase, error) {
	var opts modbusOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	return &modbusBase{
		conn:   f.dialModbus(opts.address(), f.cfg.ModbusTimeout),
		opts:   opts,
		logger: logger,
	}, nil
}

func (b *modbusBase) Setup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.conn.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", b.opts.address(), err)
	}
	b.setup = true

	b.logger.Info("Modbus device connected",
		zap.String("address", b.opts.address()),
		zap.Uint8("unit_id", b.opts.UnitID),
		zap.Uint16("register", b.opts.Address))
	return nil
}

func (b *modbusBase) IsSetup() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.setup
}

func (b *modbusBase) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setup = false
	return b.conn.Close()
}

func (b *modbusBase) ready() error {
	if !b.setup {
		return ErrNotSetup
	}
	return nil
}

// ModbusRelay drives a single coil. The coil is read back for the state.
type ModbusRelay struct {
	*modbusBase
}

func newModbusRelay(f *Factory, options map[string]any, logger *zap.Logger) (*ModbusRelay, error) {
	base, err := newModbusBase(f, options, logger)
	if err != nil {
		return nil, err
	}
	return &ModbusRelay{modbusBase: base}, nil
}

func (r *ModbusRelay) Switch(ctx context.Context, cmd output.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return err
	}
	return r.conn.WriteSingleCoil(ctx, r.opts.UnitID, r.opts.Address, cmd.State == types.StateOn)
}

func (r *ModbusRelay) IsOn(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return false, err
	}
	coils, err := r.conn.ReadCoils(ctx, r.opts.UnitID, r.opts.Address, 1)
	if err != nil {
		return false, err
	}
	if len(coils) == 0 {
		return false, fmt.Errorf("empty coil response")
	}
	return coils[0], nil
}

func (r *ModbusRelay) TracksState() bool { return true }

// ModbusPWM writes the duty cycle, scaled to the device range, into a
// holding register.
type ModbusPWM struct {
	*modbusBase

	on bool
}

func newModbusPWM(f *Factory, options map[string]any, logger *zap.Logger) (*ModbusPWM, error) {
	base, err := newModbusBase(f, options, logger)
	if err != nil {
		return nil, err
	}
	if base.opts.Scale == 0 {
		base.opts.Scale = defaultPWMScale
	}
	return &ModbusPWM{modbusBase: base}, nil
}

func (p *ModbusPWM) Switch(ctx context.Context, cmd output.Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(); err != nil {
		return err
	}

	value := scaleDuty(cmd.DutyCycle, p.opts.Scale)
	if err := p.conn.WriteSingleRegister(ctx, p.opts.UnitID, p.opts.Address, value); err != nil {
		return err
	}
	p.on = cmd.State == types.StateOn
	return nil
}

func (p *ModbusPWM) IsOn(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on, nil
}

// scaleDuty maps 0..100 percent onto 0..scale.
func scaleDuty(duty float64, scale uint16) uint16 {
	duty = math.Max(0, math.Min(100, duty))
	return uint16(math.Round(duty / 100 * float64(scale)))
}
