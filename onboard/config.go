package onboard

import (
	"fmt"
	"os"

	deverrors "github.com/CodedInternet/linearservo/onboard/errors"
	"github.com/CodedInternet/linearservo/onboard/servo"
	"github.com/Masterminds/semver"
	"gopkg.in/yaml.v2"
)

// CONFIG_VERSION is the range of device file versions this build understands.
const CONFIG_VERSION = "~1.0"

const (
	DRIVER_CAN       = "can"
	DRIVER_GPIO      = "gpio"
	DRIVER_SERIAL    = "serial"
	DRIVER_SIMULATED = "simulated"
)

type MotorConfig struct {
	Driver string `yaml:"driver"`

	// can
	Bus   string `yaml:"bus,omitempty"`
	Node  uint32 `yaml:"node,omitempty"`
	Index uint8  `yaml:"index,omitempty"`

	// gpio
	PWMPin int `yaml:"pwm_pin,omitempty"`
	DirPin int `yaml:"dir_pin,omitempty"`

	// serial
	Port string `yaml:"port,omitempty"`
	Baud int    `yaml:"baud,omitempty"`
}

type DeviceConfig struct {
	Version string                      `yaml:"version"`
	Motors  map[string]MotorConfig      `yaml:"motors"`
	Servos  map[string]servo.Attributes `yaml:"servos"`
}

func LoadDeviceConfig(filename string) (*DeviceConfig, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("unable to read device config: %w", err)
	}
	return ParseDeviceConfig(raw)
}

func ParseDeviceConfig(raw []byte) (config *DeviceConfig, err error) {
	config = new(DeviceConfig)
	if err = yaml.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("unable to unmarshal device config: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the file version, every motor driver, and that every servo only
// depends on motors declared in the same file.
func (c *DeviceConfig) Validate() error {
	version, err := semver.NewVersion(c.Version)
	if err != nil {
		return deverrors.ConfigError{Attribute: "version", Reason: fmt.Sprintf("%q is not a semantic version", c.Version)}
	}

	constraint, err := semver.NewConstraint(CONFIG_VERSION)
	if err != nil {
		return err
	}
	if !constraint.Check(version) {
		return deverrors.ConfigError{Attribute: "version", Reason: fmt.Sprintf("%s is not supported, require %s", c.Version, CONFIG_VERSION)}
	}

	for name, motor := range c.Motors {
		switch motor.Driver {
		case DRIVER_CAN, DRIVER_GPIO, DRIVER_SERIAL, DRIVER_SIMULATED:
		default:
			return deverrors.DriverError{Name: name, Driver: motor.Driver}
		}
	}

	for name, attrs := range c.Servos {
		required, _, err := servo.Validate(attrs)
		if err != nil {
			return fmt.Errorf("servo %s: %w", name, err)
		}
		for _, dep := range required {
			if _, ok := c.Motors[dep]; !ok {
				return fmt.Errorf("servo %s: %w", name, deverrors.NameError{Kind: "motor", Name: dep})
			}
		}
	}

	return nil
}
