package main

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/CodedInternet/linearservo/onboard"
	"github.com/CodedInternet/linearservo/onboard/servo"
	"github.com/abiosoft/ishell/v2"
	"github.com/asdine/storm/v3"
	"github.com/spf13/cast"
)

var errUsage = errors.New("incorrect number of arguments")

// newShell builds the development shell. Every servo command takes the servo name first.
func newShell(device onboard.Device, db *storm.DB) *ishell.Shell {
	servoNames := func([]string) []string {
		return device.ServoNames()
	}

	// servoCmd resolves the servo named by the first argument before calling fn.
	servoCmd := func(name, help string, nargs int, fn func(c *ishell.Context, s *servo.LinearServo)) *ishell.Cmd {
		return &ishell.Cmd{
			Name:      name,
			Help:      help,
			Completer: servoNames,
			Func: func(c *ishell.Context) {
				if len(c.Args) < nargs {
					c.Err(errUsage)
					c.Println("usage:", help)
					return
				}
				s, err := device.Servo(c.Args[0])
				if err != nil {
					c.Err(err)
					return
				}
				fn(c, s)
			},
		}
	}

	shell := ishell.New()
	shell.Println("Linear servo development shell")
	shell.ShowPrompt(true)

	shell.AddCmd(&ishell.Cmd{
		Name: "createsuperuser",
		Help: "createsuperuser <email> <password>",
		Func: func(c *ishell.Context) {
			// disable the '>>>' for cleaner same line input.
			c.ShowPrompt(false)
			defer c.ShowPrompt(true) // yes, revert when done.

			// get email
			var email string
			if len(c.Args) >= 1 {
				email = c.Args[0]
			} else {
				c.Print("Email: ")
				email = c.ReadLine()
			}

			// get password
			var password string
			if len(c.Args) >= 2 {
				password = c.Args[1]
			} else {
				c.Print("Password: ")
				password = c.ReadPassword()
			}

			if err := createSuperuser(db, email, password); err != nil {
				c.Err(err)
				return
			}
			c.Println("Superuser created")
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "servos",
		Help: "list configured servos",
		Func: func(c *ishell.Context) {
			for _, name := range device.ServoNames() {
				c.Println(name)
			}
		},
	})

	shell.AddCmd(servoCmd("move", "move <name> <degrees> [timeout]", 2, func(c *ishell.Context, s *servo.LinearServo) {
		angle, err := cast.ToIntE(c.Args[1])
		if err != nil {
			c.Err(err)
			return
		}

		timeout := DEFAULT_MOVE_TIMEOUT
		if len(c.Args) > 2 {
			if timeout, err = time.ParseDuration(c.Args[2]); err != nil {
				c.Err(err)
				return
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		c.Printf("Moving servo %s to %d°\n", s.Name(), angle)
		c.ProgressBar().Indeterminate(true)
		c.ProgressBar().Start()
		err = s.Move(ctx, angle, nil)
		c.ProgressBar().Stop()

		if err != nil {
			c.Err(err)
			return
		}
		pos, _ := s.Position(ctx, nil)
		c.Printf("Servo %s at %d°\n", s.Name(), pos)
	}))

	shell.AddCmd(servoCmd("position", "position <name>", 1, func(c *ishell.Context, s *servo.LinearServo) {
		pos, err := s.Position(context.Background(), nil)
		if err != nil {
			c.Err(err)
			return
		}
		c.Printf("%d°\n", pos)
	}))

	shell.AddCmd(servoCmd("stop", "stop <name>", 1, func(c *ishell.Context, s *servo.LinearServo) {
		if err := s.Stop(context.Background(), nil); err != nil {
			c.Err(err)
			return
		}
		c.Printf("Stopped servo %s\n", s.Name())
	}))

	shell.AddCmd(servoCmd("moving", "moving <name>", 1, func(c *ishell.Context, s *servo.LinearServo) {
		moving, err := s.IsMoving(context.Background())
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(moving)
	}))

	shell.AddCmd(servoCmd("calibrate", "calibrate <name>", 1, func(c *ishell.Context, s *servo.LinearServo) {
		if err := device.Recalibrate(s.Name()); err != nil {
			c.Err(err)
			return
		}

		c.ProgressBar().Indeterminate(true)
		c.ProgressBar().Start()
		err := s.WaitForCalibration(context.Background())
		c.ProgressBar().Stop()

		if err != nil {
			c.Err(err)
			return
		}
		c.Printf("Servo %s calibrated\n", s.Name())
	}))

	shell.AddCmd(servoCmd("config", "config <name> <attribute>=<value>...", 2, func(c *ishell.Context, s *servo.LinearServo) {
		attrs, err := device.Attributes(s.Name())
		if err != nil {
			c.Err(err)
			return
		}
		if err = parseAttributes(attrs, c.Args[1:]); err != nil {
			c.Err(err)
			return
		}
		if err = device.Reconfigure(s.Name(), attrs); err != nil {
			c.Err(err)
			return
		}
		c.Printf("Servo %s reconfigured, calibrating\n", s.Name())
	}))

	return shell
}

// parseAttributes reads key=value pairs into attrs. Numeric values are stored as numbers.
func parseAttributes(attrs servo.Attributes, args []string) error {
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return errors.New("attributes must be given as <attribute>=<value>")
		}

		if f, err := strconv.ParseFloat(value, 64); err == nil {
			attrs[key] = f
		} else {
			attrs[key] = value
		}
	}
	return nil
}
