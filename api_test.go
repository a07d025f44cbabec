package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/CodedInternet/linearservo/comms"
	. "github.com/smartystreets/goconvey/convey"
)

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestServoAPI(t *testing.T) {
	device := setupTestEnv(t)
	waitCalibrated(t, device, "lid")
	waitCalibrated(t, device, "slow")

	ENV.DEBUG = true
	defer func() { ENV.DEBUG = false }()
	router := newRouter()

	Convey("Servos are listed", t, func() {
		rr := serve(router, "GET", "/api/servos", "")
		So(rr.Code, ShouldEqual, http.StatusOK)

		var payload ServosPayload
		So(json.Unmarshal(rr.Body.Bytes(), &payload), ShouldBeNil)
		So(payload.Servos, ShouldResemble, []string{"lid", "slow"})
	})

	Convey("Unknown servos are not found", t, func() {
		rr := serve(router, "GET", "/api/servos/hatch/position", "")
		So(rr.Code, ShouldEqual, http.StatusNotFound)
		So(rr.Body.String(), ShouldContainSubstring, "no such servo hatch")
	})

	Convey("Moving a servo", t, func() {
		s, _ := device.Servo("lid")
		defer s.Move(context.Background(), 90, nil)

		Convey("returns the new position once the move is complete", func() {
			rr := serve(router, "POST", "/api/servos/lid/move", `{"angle": 120}`)
			So(rr.Code, ShouldEqual, http.StatusOK)
			So(rr.Body.String(), ShouldContainSubstring, `"position":120`)

			rr = serve(router, "GET", "/api/servos/lid/position", "")
			So(rr.Code, ShouldEqual, http.StatusOK)
			var payload PositionPayload
			So(json.Unmarshal(rr.Body.Bytes(), &payload), ShouldBeNil)
			So(payload.Position, ShouldEqual, 120)
		})

		Convey("clamps the angle to the configured range", func() {
			rr := serve(router, "POST", "/api/servos/lid/move", `{"angle": 400}`)
			So(rr.Code, ShouldEqual, http.StatusOK)
			So(rr.Body.String(), ShouldContainSubstring, `"position":180`)
		})

		Convey("requires an angle", func() {
			rr := serve(router, "POST", "/api/servos/lid/move", `{}`)
			So(rr.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("rejects an invalid timeout", func() {
			rr := serve(router, "POST", "/api/servos/lid/move", `{"angle": 10, "timeout": "soon"}`)
			So(rr.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("times out without changing the estimate", func() {
			rr := serve(router, "POST", "/api/servos/slow/move", `{"angle": 90, "timeout": "10ms"}`)
			So(rr.Code, ShouldEqual, http.StatusGatewayTimeout)

			slow, _ := device.Servo("slow")
			pos, _ := slow.Position(context.Background(), nil)
			So(pos, ShouldEqual, 0)
		})
	})

	Convey("Motor passthroughs", t, func() {
		Convey("stop", func() {
			rr := serve(router, "POST", "/api/servos/lid/stop", "")
			So(rr.Code, ShouldEqual, http.StatusNoContent)
		})

		Convey("moving", func() {
			rr := serve(router, "GET", "/api/servos/lid/moving", "")
			So(rr.Code, ShouldEqual, http.StatusOK)
			So(rr.Body.String(), ShouldContainSubstring, `"moving":false`)
		})
	})

	Convey("State includes calibration status", t, func() {
		rr := serve(router, "GET", "/api/servos/lid/state", "")
		So(rr.Code, ShouldEqual, http.StatusOK)

		var state comms.StatePayload
		So(json.Unmarshal(rr.Body.Bytes(), &state), ShouldBeNil)
		So(state.Name, ShouldEqual, "lid")
		So(state.Position, ShouldEqual, 90)
		So(state.Calibrating, ShouldBeFalse)
		So(state.CalibrationError, ShouldBeEmpty)
	})

	Convey("Reconfiguring a servo", t, func() {
		Convey("applies the new attributes and restarts calibration", func() {
			rr := serve(router, "PUT", "/api/servos/lid/config",
				`{"motor": "bench", "length_inches": 1, "mm_per_second": 2540, "start_position": 60}`)
			So(rr.Code, ShouldEqual, http.StatusAccepted)

			waitCalibrated(t, device, "lid")
			s, _ := device.Servo("lid")
			So(s.Config().StartPosition, ShouldEqual, 60)
			pos, _ := s.Position(context.Background(), nil)
			So(pos, ShouldEqual, 60)

			rr = serve(router, "PUT", "/api/servos/lid/config",
				`{"motor": "bench", "length_inches": 1, "mm_per_second": 2540}`)
			So(rr.Code, ShouldEqual, http.StatusAccepted)
			waitCalibrated(t, device, "lid")
		})

		Convey("rejects invalid attributes", func() {
			rr := serve(router, "PUT", "/api/servos/lid/config",
				`{"motor": "bench", "length_inches": 1, "mm_per_second": 0}`)
			So(rr.Code, ShouldEqual, http.StatusBadRequest)
			So(rr.Body.String(), ShouldContainSubstring, "mm_per_second")
		})

		Convey("rejects motors the device does not have", func() {
			rr := serve(router, "PUT", "/api/servos/lid/config",
				`{"motor": "winch", "length_inches": 1, "mm_per_second": 2540}`)
			So(rr.Code, ShouldEqual, http.StatusBadRequest)
		})
	})

	Convey("Unsupported operations report not implemented", t, func() {
		rr := serve(router, "POST", "/api/servos/lid/do_command", `{"cmd": "home"}`)
		So(rr.Code, ShouldEqual, http.StatusNotImplemented)

		rr = serve(router, "GET", "/api/servos/lid/geometries", "")
		So(rr.Code, ShouldEqual, http.StatusNotImplemented)
	})
}

func TestServoAPIAuthentication(t *testing.T) {
	setupTestEnv(t)
	router := newRouter()

	Convey("Servo routes require a token outside debug mode", t, func() {
		rr := serve(router, "GET", "/api/servos", "")
		So(rr.Code, ShouldEqual, http.StatusUnauthorized)

		ts, _ := newJWT("api@test.case")
		req := httptest.NewRequest("GET", "/api/servos", nil)
		req.Header.Set("Authorization", "Bearer "+ts)
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		So(rr.Code, ShouldEqual, http.StatusOK)
	})
}
