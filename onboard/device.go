package onboard

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"github.com/CodedInternet/linearservo/onboard/canbus"
	deverrors "github.com/CodedInternet/linearservo/onboard/errors"
	"github.com/CodedInternet/linearservo/onboard/hardware"
	"github.com/CodedInternet/linearservo/onboard/servo"
)

const DEFAULT_BAUD = 115200

// Device is the set of servos a process controls.
type Device interface {
	ServoNames() []string
	Servo(name string) (*servo.LinearServo, error)
	Reconfigure(name string, attrs servo.Attributes) error
	Recalibrate(name string) error
	Attributes(name string) (servo.Attributes, error)
}

type nodeKey struct {
	bus string
	id  uint32
}

// ServoDevice builds the motors and servos described by a DeviceConfig and resolves each
// servo's motor dependency by name.
type ServoDevice struct {
	config *DeviceConfig
	logger *log.Logger

	lock   sync.RWMutex
	Motors map[string]hardware.Motor
	Servos map[string]*servo.LinearServo

	can   map[string]*canbus.CANBus
	nodes map[nodeKey]*hardware.ControlNode
	gpio  bool
}

// NewServoDevice creates every motor, then every servo. With simulated set, every motor is
// replaced by a SimulatedMotor regardless of its driver.
func NewServoDevice(ctx context.Context, config *DeviceConfig, simulated bool, logger *log.Logger) (d *ServoDevice, err error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	d = &ServoDevice{
		config: config,
		logger: logger,
		Motors: make(map[string]hardware.Motor, len(config.Motors)),
		Servos: make(map[string]*servo.LinearServo, len(config.Servos)),
		can:    make(map[string]*canbus.CANBus),
		nodes:  make(map[nodeKey]*hardware.ControlNode),
	}

	for name, mConf := range config.Motors {
		if simulated {
			mConf.Driver = DRIVER_SIMULATED
		}

		var motor hardware.Motor
		motor, err = d.newMotor(ctx, name, mConf)
		if err != nil {
			d.Close(ctx)
			return nil, err
		}
		d.Motors[name] = motor
	}

	for name, attrs := range config.Servos {
		if err = d.Reconfigure(name, attrs); err != nil {
			d.Close(ctx)
			return nil, fmt.Errorf("servo %s: %w", name, err)
		}
	}

	return d, nil
}

func (d *ServoDevice) newMotor(ctx context.Context, name string, conf MotorConfig) (hardware.Motor, error) {
	switch conf.Driver {
	case DRIVER_CAN:
		node, err := d.getNode(ctx, conf.Bus, conf.Node)
		if err != nil {
			return nil, err
		}
		return &hardware.CANMotor{Node: node, Index: conf.Index}, nil

	case DRIVER_GPIO:
		motor, err := hardware.NewGPIOMotor(conf.PWMPin, conf.DirPin)
		if err != nil {
			return nil, err
		}
		d.gpio = true
		return motor, nil

	case DRIVER_SERIAL:
		baud := conf.Baud
		if baud == 0 {
			baud = DEFAULT_BAUD
		}
		motor, err := hardware.NewSerialMotor(conf.Port, baud)
		if err != nil {
			return nil, err
		}
		return motor, nil

	case DRIVER_SIMULATED:
		return hardware.NewSimulatedMotor(name), nil

	default:
		return nil, deverrors.DriverError{Name: name, Driver: conf.Driver}
	}
}

func (d *ServoDevice) getNode(ctx context.Context, busName string, id uint32) (node *hardware.ControlNode, err error) {
	key := nodeKey{busName, id}
	if node, ok := d.nodes[key]; ok {
		return node, nil
	}

	bus, ok := d.can[busName]
	if !ok {
		// need to create bus
		bus, err = canbus.NewCANBus(ctx, busName)
		if err != nil {
			return
		}
		d.can[busName] = bus
	}

	node, err = hardware.NewControlNode(ctx, bus, id)
	if err != nil {
		return
	}
	d.logger.Printf("[device] node 0x%x on %s running firmware %s", id, busName, node.Version)

	d.nodes[key] = node
	return
}

// dependencies resolves the motors a servo's attributes refer to.
func (d *ServoDevice) dependencies(attrs servo.Attributes) (servo.Dependencies, error) {
	required, optional, err := servo.Validate(attrs)
	if err != nil {
		return nil, err
	}

	deps := make(servo.Dependencies, len(required)+len(optional))
	for _, name := range required {
		motor, ok := d.Motors[name]
		if !ok {
			return nil, deverrors.ConfigError{Attribute: servo.AttrMotor, Reason: fmt.Sprintf("%q cannot be resolved", name)}
		}
		deps[name] = motor
	}
	for _, name := range optional {
		if motor, ok := d.Motors[name]; ok {
			deps[name] = motor
		}
	}

	return deps, nil
}

// Reconfigure applies attrs to the named servo, creating it if needed. Calibration starts
// in the background either way.
func (d *ServoDevice) Reconfigure(name string, attrs servo.Attributes) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	deps, err := d.dependencies(attrs)
	if err != nil {
		return err
	}

	if s, ok := d.Servos[name]; ok {
		err = s.Reconfigure(attrs, deps)
	} else {
		var s *servo.LinearServo
		s, err = servo.NewLinearServo(name, attrs, deps, d.logger)
		if err == nil {
			d.Servos[name] = s
		}
	}
	if err != nil {
		return err
	}

	if d.config.Servos == nil {
		d.config.Servos = make(map[string]servo.Attributes)
	}
	d.config.Servos[name] = attrs
	return nil
}

// Recalibrate reapplies the servo's current attributes, which restarts its calibration.
func (d *ServoDevice) Recalibrate(name string) error {
	d.lock.RLock()
	attrs, ok := d.config.Servos[name]
	d.lock.RUnlock()

	if !ok {
		return deverrors.NameError{Kind: "servo", Name: name}
	}
	return d.Reconfigure(name, attrs)
}

// Attributes returns a copy of the attributes the servo was last configured with.
func (d *ServoDevice) Attributes(name string) (servo.Attributes, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	attrs, ok := d.config.Servos[name]
	if !ok {
		return nil, deverrors.NameError{Kind: "servo", Name: name}
	}

	dup := make(servo.Attributes, len(attrs))
	for k, v := range attrs {
		dup[k] = v
	}
	return dup, nil
}

func (d *ServoDevice) Servo(name string) (*servo.LinearServo, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	s, ok := d.Servos[name]
	if !ok {
		return nil, deverrors.NameError{Kind: "servo", Name: name}
	}
	return s, nil
}

func (d *ServoDevice) ServoNames() []string {
	d.lock.RLock()
	defer d.lock.RUnlock()

	names := make([]string, 0, len(d.Servos))
	for name := range d.Servos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *ServoDevice) Config() *DeviceConfig {
	return d.config
}

// Close stops every motor and releases the hardware behind them.
func (d *ServoDevice) Close(ctx context.Context) (err error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	// servos first, so no calibration drives a motor once it has been released
	for name, s := range d.Servos {
		if closeErr := s.Close(ctx); closeErr != nil {
			d.logger.Printf("[device][error] unable to close servo %s: %v", name, closeErr)
			err = closeErr
		}
	}

	for name, motor := range d.Motors {
		if stopErr := motor.Stop(ctx); stopErr != nil {
			d.logger.Printf("[device][error] unable to stop motor %s: %v", name, stopErr)
			err = deverrors.MotorFault{Motor: name, Op: "stop", Err: stopErr}
		}
		if closer, ok := motor.(io.Closer); ok {
			closer.Close()
		}
	}

	for key, node := range d.nodes {
		if stopErr := node.AllStop(ctx); stopErr != nil {
			d.logger.Printf("[device][error] all stop failed on node 0x%x: %v", key.id, stopErr)
		}
	}
	for _, bus := range d.can {
		bus.Close()
	}
	if d.gpio {
		hardware.CloseGPIO()
	}

	return
}
