package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/CodedInternet/linearservo/comms"
	"github.com/CodedInternet/linearservo/onboard"
	"github.com/asdine/storm/v3"
	"github.com/caarlos0/env/v6"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

const SHUTDOWN_TIMEOUT = 5 * time.Second

type EnvConfig struct {
	JWT_ISSUER    string `env:"JWT_ISSUER" envDefault:"DEV"`
	JWT_SECRET    string `env:"JWT_SECRET"`
	DEBUG         bool   `env:"DEBUG" envDefault:"false"`
	SRCDIR        string `env:"SRCDIR" envDefault:"."`
	HTMLDIR       string `env:"HTMLDIR" envDefault:"./frontend/dist/"`
	DEVICE_CONFIG string `env:"DEVICE_CONFIG" envDefault:"device.yaml"`
	DB_PATH       string `env:"DB_PATH" envDefault:"./tmp/dev.db"`
	LISTEN        string `env:"LISTEN" envDefault:"0.0.0.0:80"`

	DB        *storm.DB
	Device    onboard.Device
	Conductor *comms.Conductor
	Logger    *log.Logger
	Simulated bool
}

var (
	ENV *EnvConfig
)

func init() {
	ENV = new(EnvConfig)
	if err := env.Parse(ENV); err != nil {
		panic(err)
	}
	ENV.Logger = log.New(os.Stderr, "", log.LstdFlags)
}

// srcPath resolves relative paths against SRCDIR.
func srcPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ENV.SRCDIR, path)
}

func main() {
	// process flags
	simulated := flag.Bool("sim", false, "Replace every motor with a simulated one")
	port := flag.String("port", "", "Specify the ip:port to listen on, overrides LISTEN")
	headless := flag.Bool("headless", false, "Run without the development shell")
	flag.Parse()

	if *port != "" {
		ENV.LISTEN = *port
	}
	ENV.Simulated = *simulated
	logger := ENV.Logger

	if _, err := jwtSecret(); err != nil {
		logger.Fatal(err)
	}
	if ENV.JWT_SECRET == "" {
		logger.Println("[main][warn] JWT_SECRET not set, signing tokens with the development key")
	}

	// setup database
	dbFile := srcPath(ENV.DB_PATH)
	if err := os.MkdirAll(filepath.Dir(dbFile), 0755); err != nil {
		logger.Fatal(err)
	}
	db, err := openDb(dbFile)
	if err != nil {
		logger.Fatalf("unable to open database: %v", err)
	}
	defer db.Close() // close database when finished
	ENV.DB = db

	config, err := onboard.LoadDeviceConfig(srcPath(ENV.DEVICE_CONFIG))
	if err != nil {
		logger.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if ENV.Simulated {
		logger.Println("[main] running with simulated motors")
	}
	device, err := onboard.NewServoDevice(ctx, config, ENV.Simulated, logger)
	if err != nil {
		logger.Fatalf("unable to initialize device: %v", err)
	}
	defer device.Close(context.Background())
	ENV.Device = device

	ENV.Conductor = comms.NewConductor(device, logger)

	srv := &http.Server{
		Addr:        ENV.LISTEN,
		Handler:     newRouter(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ENV.Conductor.UpdateClients(gctx)
	})
	g.Go(func() error {
		logger.Println("[main] listening on", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if !*headless {
		shell := newShell(device, db)
		go func() {
			// leaving the shell stops the process
			shell.Run()
			stop()
		}()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("[main][error] %v", err)
	}
	logger.Println("[main] shutting down")
}

func newRouter() chi.Router {
	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Recoverer) // make sure this is last

	if ENV.DEBUG {
		fmt.Println("Running in debug mode. Authentication disabled.")
	}

	r.Route("/api", func(r chi.Router) {
		// login
		r.Post("/login", Login)
		r.With(ValidateJWT).Get("/refresh_token", JWTRefresh)

		r.With(Authenticate).Mount("/servos", servoRouter())
	})

	// Add websocket routes
	r.Route("/ws", func(r chi.Router) {
		r.Use(Authenticate)
		r.Get("/state", StateSocketHandler)
	})

	// add static base routes
	if _, err := os.Stat(ENV.HTMLDIR); err == nil {
		FileServer(r, "/", http.Dir(ENV.HTMLDIR))
	}

	return r
}

// FileServer conveniently sets up a http.FileServer handler to serve
// static files from a http.FileSystem.
func FileServer(r chi.Router, path string, root http.FileSystem) {
	if strings.ContainsAny(path, "{}*") {
		panic("FileServer does not permit URL parameters.")
	}

	fs := http.StripPrefix(path, http.FileServer(root))

	if path != "/" && path[len(path)-1] != '/' {
		r.Get(path, http.RedirectHandler(path+"/", http.StatusMovedPermanently).ServeHTTP)
		path += "/"
	}
	path += "*"

	r.Get(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.ServeHTTP(w, r)
	}))
}
