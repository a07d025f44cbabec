package main

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/CodedInternet/linearservo/comms"
	"github.com/CodedInternet/linearservo/onboard"
)

// a full sweep of lid takes 10ms, of slow 100ms
const testDeviceYaml = `
version: 1.0.0
motors:
  bench:
    driver: simulated
  spare:
    driver: simulated
servos:
  lid:
    motor: bench
    length_inches: 1
    mm_per_second: 2540
  slow:
    motor: spare
    length_inches: 1
    mm_per_second: 254
    start_position: 0
`

const testSecret = "test-secret"

// useTestSecret signs tokens with testSecret until the test ends.
func useTestSecret(t *testing.T) {
	t.Helper()

	prev := ENV.JWT_SECRET
	ENV.JWT_SECRET = testSecret
	t.Cleanup(func() { ENV.JWT_SECRET = prev })
}

// setupTestEnv points ENV at a fresh database and a simulated device.
func setupTestEnv(t *testing.T) *onboard.ServoDevice {
	t.Helper()

	db, err := openDb(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	config, err := onboard.ParseDeviceConfig([]byte(testDeviceYaml))
	if err != nil {
		t.Fatal(err)
	}
	logger := log.New(io.Discard, "", 0)
	device, err := onboard.NewServoDevice(context.Background(), config, false, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { device.Close(context.Background()) })

	useTestSecret(t)
	ENV.DB = db
	ENV.Device = device
	ENV.Conductor = comms.NewConductor(device, logger)
	ENV.Logger = logger
	return device
}

func waitCalibrated(t *testing.T, device *onboard.ServoDevice, name string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := device.Servo(name)
	if err != nil {
		t.Fatal(err)
	}
	if err = s.WaitForCalibration(ctx); err != nil {
		t.Fatal(err)
	}
}
