package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/CodedInternet/linearservo/comms"
	deverrors "github.com/CodedInternet/linearservo/onboard/errors"
	"github.com/CodedInternet/linearservo/onboard/servo"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

const DEFAULT_MOVE_TIMEOUT = comms.MOVE_TIMEOUT

const servoCtxKey ctxKey = "servo"

//---
// Error responses
//---

type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func errResponse(err error, status int) render.Renderer {
	resp := &ErrResponse{
		Err:            err,
		HTTPStatusCode: status,
		StatusText:     http.StatusText(status),
	}
	if err != nil {
		resp.ErrorText = err.Error()
	}
	return resp
}

var ErrNotFound = &ErrResponse{HTTPStatusCode: http.StatusNotFound, StatusText: "Resource not found."}

func ErrInvalidRequest(err error) render.Renderer {
	return errResponse(err, http.StatusBadRequest)
}

func ErrUnauthorized(err error) render.Renderer {
	return errResponse(err, http.StatusUnauthorized)
}

func ErrPermissionDenied(err error) render.Renderer {
	return errResponse(err, http.StatusForbidden)
}

func ErrRender(err error) render.Renderer {
	return errResponse(err, http.StatusInternalServerError)
}

func ErrNotImplemented(err error) render.Renderer {
	return errResponse(err, http.StatusNotImplemented)
}

// ErrDevice maps an error from the device to a response.
func ErrDevice(err error) render.Renderer {
	var (
		nameErr  deverrors.NameError
		cfgErr   deverrors.ConfigError
		motorErr deverrors.MotorFault
	)

	switch {
	case errors.As(err, &nameErr):
		return errResponse(err, http.StatusNotFound)
	case errors.As(err, &cfgErr):
		return errResponse(err, http.StatusBadRequest)
	case errors.Is(err, deverrors.ErrNotImplemented):
		return ErrNotImplemented(err)
	case errors.Is(err, context.DeadlineExceeded):
		return errResponse(err, http.StatusGatewayTimeout)
	case errors.As(err, &motorErr):
		return errResponse(err, http.StatusBadGateway)
	default:
		return ErrRender(err)
	}
}

//---
// Payloads
//---

type MovePayload struct {
	Angle   *int   `json:"angle"`
	Timeout string `json:"timeout,omitempty"`

	timeout time.Duration
}

func (m *MovePayload) Bind(r *http.Request) (err error) {
	if m.Angle == nil {
		return errors.New("angle is required")
	}

	m.timeout = DEFAULT_MOVE_TIMEOUT
	if m.Timeout != "" {
		if m.timeout, err = time.ParseDuration(m.Timeout); err != nil {
			return err
		}
		if m.timeout <= 0 {
			return errors.New("timeout must be positive")
		}
	}
	return nil
}

type PositionPayload struct {
	Position int `json:"position"`
}

type MovingPayload struct {
	Moving bool `json:"moving"`
}

type ServosPayload struct {
	Servos []string `json:"servos"`
}

//---
// Routes
//---

func servoRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/", ListServos)

	r.Route("/{name}", func(r chi.Router) {
		r.Use(ServoCtx)

		r.Get("/", GetState)
		r.Get("/state", GetState)
		r.Post("/move", MoveServo)
		r.Get("/position", GetPosition)
		r.Post("/stop", StopServo)
		r.Get("/moving", GetMoving)
		r.Put("/config", PutConfig)
		r.Post("/do_command", DoCommand)
		r.Get("/geometries", GetGeometries)
	})

	return r
}

// ServoCtx loads the servo named in the URL into the request context.
func ServoCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := ENV.Device.Servo(chi.URLParam(r, "name"))
		if err != nil {
			render.Render(w, r, ErrDevice(err))
			return
		}

		ctx := context.WithValue(r.Context(), servoCtxKey, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func servoFromCtx(r *http.Request) *servo.LinearServo {
	return r.Context().Value(servoCtxKey).(*servo.LinearServo)
}

//---
// Views
//---

func ListServos(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, ServosPayload{ENV.Device.ServoNames()})
}

func GetState(w http.ResponseWriter, r *http.Request) {
	state, err := ENV.Conductor.ServoState(r.Context(), servoFromCtx(r).Name())
	if err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}
	render.JSON(w, r, state)
}

// MoveServo blocks until the move has finished, then returns the new position.
func MoveServo(w http.ResponseWriter, r *http.Request) {
	data := &MovePayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	s := servoFromCtx(r)
	ctx, cancel := context.WithTimeout(r.Context(), data.timeout)
	defer cancel()

	if err := s.Move(ctx, *data.Angle, nil); err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}

	pos, _ := s.Position(r.Context(), nil)
	render.JSON(w, r, PositionPayload{pos})
}

func GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := servoFromCtx(r).Position(r.Context(), nil)
	if err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}
	render.JSON(w, r, PositionPayload{pos})
}

func StopServo(w http.ResponseWriter, r *http.Request) {
	if err := servoFromCtx(r).Stop(r.Context(), nil); err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}
	render.NoContent(w, r)
}

func GetMoving(w http.ResponseWriter, r *http.Request) {
	moving, err := servoFromCtx(r).IsMoving(r.Context())
	if err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}
	render.JSON(w, r, MovingPayload{moving})
}

// PutConfig replaces the servo's attributes. Calibration restarts in the background.
func PutConfig(w http.ResponseWriter, r *http.Request) {
	var attrs servo.Attributes
	if err := render.DecodeJSON(r.Body, &attrs); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	name := servoFromCtx(r).Name()
	if err := ENV.Device.Reconfigure(name, attrs); err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}

	state, err := ENV.Conductor.ServoState(r.Context(), name)
	if err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, state)
}

func DoCommand(w http.ResponseWriter, r *http.Request) {
	var cmd map[string]interface{}
	if err := render.DecodeJSON(r.Body, &cmd); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	resp, err := servoFromCtx(r).DoCommand(r.Context(), cmd)
	if err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}
	render.JSON(w, r, resp)
}

func GetGeometries(w http.ResponseWriter, r *http.Request) {
	geometries, err := servoFromCtx(r).Geometries(r.Context(), nil)
	if err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}
	render.JSON(w, r, geometries)
}
