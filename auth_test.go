package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	. "github.com/smartystreets/goconvey/convey"
)

func TestUser(t *testing.T) {
	Convey("Methods work as expected", t, func() {
		user := new(User)
		Convey("Setting and verify password works correctly with hashes", func() {
			So(user.SetPassword([]byte("hello123")), ShouldBeNil)
			So(user.Password, ShouldStartWith, "$")

			So(user.VerifyPassword([]byte("hello123")), ShouldBeNil)
			So(user.VerifyPassword([]byte("hello12")), ShouldNotBeNil)
		})

		Convey("Invalid hash returns the correct error code", func() {
			user.Password = "I DON'T WORK"
			So(user.VerifyPassword([]byte("hello123")).Error(), ShouldContainSubstring, "hashedSecret too short")
		})
	})
}

func TestJWTGeneration(t *testing.T) {
	useTestSecret(t)

	Convey("test basic claim creation", t, func() {
		ts, err := newJWT("hello test")
		So(ts, ShouldNotBeEmpty)
		So(err, ShouldBeNil)

		claims := &jwt.StandardClaims{}
		_, err = jwt.ParseWithClaims(ts, claims, func(*jwt.Token) (interface{}, error) { return []byte(testSecret), nil })
		So(err, ShouldBeNil)
		So(claims.Subject, ShouldEqual, "hello test")
		So(claims.Issuer, ShouldEqual, ENV.JWT_ISSUER)
	})
}

func postLogin(lp *LoginPayload) *httptest.ResponseRecorder {
	body, _ := json.Marshal(lp)
	req := httptest.NewRequest("POST", "/api/login", bytes.NewBuffer(body))
	req.Header.Add("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	http.HandlerFunc(Login).ServeHTTP(rr, req)
	return rr
}

func TestLogin(t *testing.T) {
	setupTestEnv(t)
	if err := createSuperuser(ENV.DB, "login@test.case", "testing123"); err != nil {
		t.Fatal(err)
	}

	Convey("Valid request works as expected", t, func() {
		rr := postLogin(&LoginPayload{
			Email:    "login@test.case",
			Password: "testing123",
		})

		So(rr.Code, ShouldEqual, http.StatusOK)
		So(rr.Body.String(), ShouldContainSubstring, `"token":`)
	})

	Convey("Invalid credentials return error", t, func() {
		Convey("Incorrect username provides 404", func() {
			rr := postLogin(&LoginPayload{
				Email:    "login-no@test.case",
				Password: "testing123",
			})
			So(rr.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Incorrect password provides 403", func() {
			rr := postLogin(&LoginPayload{
				Email:    "login@test.case",
				Password: "testing12",
			})
			So(rr.Code, ShouldEqual, http.StatusForbidden)
		})

		Convey("Missing email provides 400", func() {
			rr := postLogin(&LoginPayload{Password: "testing123"})
			So(rr.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestJWTSecret(t *testing.T) {
	prevSecret, prevDebug := ENV.JWT_SECRET, ENV.DEBUG
	defer func() { ENV.JWT_SECRET, ENV.DEBUG = prevSecret, prevDebug }()

	Convey("the signing key comes from the environment", t, func() {
		ENV.JWT_SECRET, ENV.DEBUG = "from-env", true
		secret, err := jwtSecret()
		So(err, ShouldBeNil)
		So(string(secret), ShouldEqual, "from-env")
	})

	Convey("the development key is only used in debug mode", t, func() {
		ENV.JWT_SECRET, ENV.DEBUG = "", true
		secret, err := jwtSecret()
		So(err, ShouldBeNil)
		So(secret, ShouldResemble, DEV_JWT_SECRET)

		ENV.DEBUG = false
		_, err = jwtSecret()
		So(err, ShouldEqual, ErrNoSecret)

		_, err = newJWT("nobody")
		So(err, ShouldEqual, ErrNoSecret)
	})
}

func TestValidateJWT(t *testing.T) {
	useTestSecret(t)
	protected := ValidateJWT(http.HandlerFunc(JWTRefresh))

	get := func(mutate func(r *http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/refresh_token", nil)
		mutate(req)
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)
		return rr
	}

	Convey("A missing token is rejected", t, func() {
		rr := get(func(*http.Request) {})
		So(rr.Code, ShouldEqual, http.StatusUnauthorized)
		So(rr.Body.String(), ShouldContainSubstring, JWTEmpty.Error())
	})

	Convey("A valid token is accepted", t, func() {
		ts, _ := newJWT("jwt@test.case")

		Convey("from the authorization header", func() {
			rr := get(func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+ts) })
			So(rr.Code, ShouldEqual, http.StatusOK)
			So(rr.Body.String(), ShouldContainSubstring, `"token":`)
		})

		Convey("from the query string", func() {
			rr := get(func(r *http.Request) { r.URL.RawQuery = "jwt=" + ts })
			So(rr.Code, ShouldEqual, http.StatusOK)
		})

		Convey("from a cookie", func() {
			rr := get(func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "jwt", Value: ts}) })
			So(rr.Code, ShouldEqual, http.StatusOK)
		})
	})

	Convey("An expired token is rejected", t, func() {
		claims := jwt.StandardClaims{
			Subject:   "jwt@test.case",
			ExpiresAt: time.Now().Add(-time.Minute).Unix(),
		}
		ts, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))

		rr := get(func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+ts) })
		So(rr.Code, ShouldEqual, http.StatusUnauthorized)
		So(rr.Body.String(), ShouldContainSubstring, "Token has expired")
	})

	Convey("A token signed with another key is rejected", t, func() {
		claims := jwt.StandardClaims{Subject: "jwt@test.case"}
		ts, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("not the secret"))

		rr := get(func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+ts) })
		So(rr.Code, ShouldEqual, http.StatusUnauthorized)
		So(rr.Body.String(), ShouldContainSubstring, "Invalid token")
	})
}
