// Command coordinator serves a ceremony to its participants.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	nhttp "net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/kabukky/httpscerts"
	"github.com/urfave/cli/v2"

	"github.com/celo-org/snark-setup-coordinator/auth"
	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/config"
	"github.com/celo-org/snark-setup-coordinator/coordinator"
	chttp "github.com/celo-org/snark-setup-coordinator/http"
	"github.com/celo-org/snark-setup-coordinator/log"
	"github.com/celo-org/snark-setup-coordinator/metrics"
	"github.com/celo-org/snark-setup-coordinator/metrics/pprof"
	"github.com/celo-org/snark-setup-coordinator/storage"
	"github.com/celo-org/snark-setup-coordinator/store"
)

// Automatically set through -ldflags
// Example: go install -ldflags "-X main.version=`git describe --tags` -X main.gitCommit=`git rev-parse HEAD`"
var (
	version   = "master"
	gitCommit = "none"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

var configFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "TOML configuration file. Flags override its values.",
	EnvVars: []string{"COORDINATOR_CONFIG"},
}

var verboseFlag = &cli.BoolFlag{
	Name:    "verbose",
	Usage:   "If set, verbosity is at the debug level",
	EnvVars: []string{"COORDINATOR_VERBOSE"},
}

var jsonLogsFlag = &cli.BoolFlag{
	Name:    "json-logs",
	Usage:   "Print logs as JSON",
	EnvVars: []string{"COORDINATOR_JSON_LOGS"},
}

var listenFlag = &cli.StringFlag{
	Name:    "listen",
	Usage:   "Set the listening (binding) address of the public API.",
	EnvVars: []string{"COORDINATOR_LISTEN"},
}

var publicURLFlag = &cli.StringFlag{
	Name:    "public-url",
	Usage:   "URL participants reach this coordinator at. Derived from --listen if unset.",
	EnvVars: []string{"COORDINATOR_PUBLIC_URL"},
}

var storeFlag = &cli.StringFlag{
	Name:    "store",
	Usage:   "Ceremony store backend: file, bolt, redis or memory.",
	EnvVars: []string{"COORDINATOR_STORE"},
}

var storePathFlag = &cli.StringFlag{
	Name:    "store-path",
	Usage:   "Document file (file), database folder (bolt) or server URL (redis).",
	EnvVars: []string{"COORDINATOR_STORE_PATH"},
}

var storageFlag = &cli.StringFlag{
	Name:    "storage",
	Usage:   "Artifact storage backend: disk or s3.",
	EnvVars: []string{"COORDINATOR_STORAGE"},
}

var storagePathFlag = &cli.StringFlag{
	Name:    "storage-path",
	Usage:   "Folder of the disk artifact storage.",
	EnvVars: []string{"COORDINATOR_STORAGE_PATH"},
}

var bucketFlag = &cli.StringFlag{
	Name:    "bucket",
	Usage:   "Name of the S3 bucket artifacts live in.",
	EnvVars: []string{"COORDINATOR_BUCKET"},
}

var authFlag = &cli.StringFlag{
	Name:    "auth",
	Usage:   "Authentication strategy: dummy, ethereum or schnorr.",
	EnvVars: []string{"COORDINATOR_AUTH"},
}

var metricsFlag = &cli.StringFlag{
	Name:    "metrics",
	Usage:   "Launch a metrics server at the specified (host:)port.",
	EnvVars: []string{"COORDINATOR_METRICS"},
}

var tlsSelfSignedFlag = &cli.BoolFlag{
	Name:    "tls-self-signed",
	Usage:   "Serve TLS with a self signed certificate, generated next to the store if missing.",
	EnvVars: []string{"COORDINATOR_TLS_SELF_SIGNED"},
}

var forceFlag = &cli.BoolFlag{
	Name:  "force",
	Usage: "Overwrite an existing ceremony, whatever its version.",
}

var initCmd = &cli.Command{
	Name:      "init",
	Usage:     "Store the starting ceremony document.",
	ArgsUsage: "<ceremony.json> is the starting configuration",
	Flags:     toArray(configFlag, storeFlag, storePathFlag, forceFlag),
	Action:    initAction,
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Serve the ceremony over HTTP.",
	Flags: toArray(configFlag, listenFlag, publicURLFlag, storeFlag, storePathFlag,
		storageFlag, storagePathFlag, bucketFlag, authFlag, metricsFlag, tlsSelfSignedFlag),
	Action: serveAction,
}

var showCmd = &cli.Command{
	Name:   "show",
	Usage:  "Print the stored ceremony document.",
	Flags:  toArray(configFlag, storeFlag, storePathFlag),
	Action: showAction,
}

// CLI returns the coordinator application.
func CLI() *cli.App {
	app := cli.NewApp()
	app.Name = "coordinator"
	app.Version = version
	app.Usage = "ceremony coordinator"
	app.Commands = []*cli.Command{initCmd, serveCmd, showCmd}
	app.Flags = toArray(verboseFlag, jsonLogsFlag)
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

func main() {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("coordinator %v (date %v, commit %v)\n", version, buildDate, gitCommit)
	}
	if err := CLI().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		os.Exit(1)
	}
}

func toArray(flags ...cli.Flag) []cli.Flag {
	return flags
}

func logger(c *cli.Context) log.Logger {
	level := log.InfoLevel
	if c.Bool(verboseFlag.Name) {
		level = log.DebugLevel
	}
	l := log.New(nil, level, c.Bool(jsonLogsFlag.Name))
	log.SetDefault(l)
	return l
}

// contextToConfig loads the configuration file, if any, and applies the
// flags set on the command line.
func contextToConfig(c *cli.Context) (*config.Config, error) {
	conf := config.Default()
	if c.IsSet(configFlag.Name) {
		var err error
		if conf, err = config.Load(c.String(configFlag.Name)); err != nil {
			return nil, err
		}
	}
	if c.IsSet(listenFlag.Name) {
		conf.Server.Listen = c.String(listenFlag.Name)
	}
	if c.IsSet(publicURLFlag.Name) {
		conf.Server.PublicURL = c.String(publicURLFlag.Name)
	}
	if c.IsSet(tlsSelfSignedFlag.Name) {
		conf.Server.TLSSelfSigned = c.Bool(tlsSelfSignedFlag.Name)
	}
	if c.IsSet(storeFlag.Name) {
		conf.Store.Backend = c.String(storeFlag.Name)
	}
	if c.IsSet(storePathFlag.Name) {
		conf.Store.Path = c.String(storePathFlag.Name)
	}
	if c.IsSet(storageFlag.Name) {
		conf.Storage.Backend = c.String(storageFlag.Name)
	}
	if c.IsSet(storagePathFlag.Name) {
		conf.Storage.Path = c.String(storagePathFlag.Name)
	}
	if c.IsSet(bucketFlag.Name) {
		conf.Storage.S3.Bucket = c.String(bucketFlag.Name)
	}
	if c.IsSet(authFlag.Name) {
		conf.Auth.Strategy = c.String(authFlag.Name)
	}
	if c.IsSet(metricsFlag.Name) {
		conf.Metrics.Bind = c.String(metricsFlag.Name)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func openStore(ctx context.Context, l log.Logger, conf *config.Config) (store.Store, error) {
	return store.Open(ctx, l, conf.Store.Backend, conf.Store.Path, conf.Store.Key)
}

func initAction(c *cli.Context) error {
	if !c.Args().Present() {
		return errors.New("missing ceremony configuration file")
	}
	conf, err := contextToConfig(c)
	if err != nil {
		return err
	}
	l := logger(c)

	fd, err := os.Open(c.Args().First())
	if err != nil {
		return err
	}
	defer fd.Close()
	doc, err := ceremony.ReadConfig(fd)
	if err != nil {
		return err
	}

	s, err := openStore(c.Context, l, conf)
	if err != nil {
		return err
	}
	defer s.Close()
	written, err := s.Initialize(c.Context, doc, c.Bool(forceFlag.Name))
	if err != nil {
		return err
	}
	if written {
		fmt.Fprintf(c.App.Writer, "ceremony initialized with %d chunks\n", len(doc.Chunks))
	} else {
		fmt.Fprintln(c.App.Writer, "a ceremony at an equal or higher version is already stored, use --force to replace it")
	}
	return nil
}

func showAction(c *cli.Context) error {
	conf, err := contextToConfig(c)
	if err != nil {
		return err
	}
	s, err := openStore(c.Context, logger(c), conf)
	if err != nil {
		return err
	}
	defer s.Close()
	doc, err := s.Read(c.Context)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func openStorage(l log.Logger, conf *config.Config) (storage.ChunkStorage, *storage.DiskStorage, error) {
	switch conf.Storage.Backend {
	case config.StorageS3:
		awsConf := &aws.Config{
			Region:           aws.String(conf.Storage.S3.Region),
			S3ForcePathStyle: aws.Bool(conf.Storage.S3.PathStyle),
		}
		if conf.Storage.S3.Endpoint != "" {
			awsConf.Endpoint = aws.String(conf.Storage.S3.Endpoint)
		}
		sess, err := session.NewSession(awsConf)
		if err != nil {
			return nil, nil, fmt.Errorf("creating aws session: %w", err)
		}
		if _, err := sess.Config.Credentials.Get(); err != nil {
			return nil, nil, fmt.Errorf("checking credentials: %w", err)
		}
		return storage.NewS3Storage(l, sess, conf.Storage.S3.Bucket, conf.Storage.S3.Prefix), nil, nil
	default:
		disk, err := storage.NewDiskStorage(l, conf.Storage.Path, conf.PublicURL())
		if err != nil {
			return nil, nil, err
		}
		return disk, disk, nil
	}
}

func openAuthenticator(l log.Logger, conf *config.Config) (auth.Authenticator, error) {
	authn, err := auth.New(conf.Auth.Strategy)
	if err != nil {
		return nil, err
	}
	if conf.Auth.CacheSize == 0 || conf.Auth.Strategy == auth.StrategyDummy {
		return authn, nil
	}
	return auth.NewCachingAuthenticator(authn, conf.Auth.CacheSize, l)
}

func accessLog(path string) (io.WriteCloser, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return os.Stdout, nil
	default:
		return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	}
}

// selfSignedCert returns the paths of a certificate for host, generating it
// in folder when absent.
func selfSignedCert(l log.Logger, folder, host string) (string, string, error) {
	certPath := filepath.Join(folder, "coordinator-cert.pem")
	keyPath := filepath.Join(folder, "coordinator-key.pem")
	if httpscerts.Check(certPath, keyPath) == nil {
		return certPath, keyPath, nil
	}
	l.Infow("generating self signed certificate", "host", host, "cert", certPath)
	if err := httpscerts.Generate(certPath, keyPath, host); err != nil {
		return "", "", fmt.Errorf("generating certificate: %w", err)
	}
	return certPath, keyPath, nil
}

func serveAction(c *cli.Context) error {
	conf, err := contextToConfig(c)
	if err != nil {
		return err
	}
	l := logger(c)
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openStore(ctx, l, conf)
	if err != nil {
		return err
	}
	defer s.Close()
	if _, err := s.Read(ctx); err != nil {
		l.Warnw("serving without a ceremony, run init first", "err", err)
	}

	authn, err := openAuthenticator(l, conf)
	if err != nil {
		return err
	}
	chunkStorage, disk, err := openStorage(l, conf)
	if err != nil {
		return err
	}
	co := coordinator.New(s, coordinator.WithLogger(l))

	if err := metrics.RegisterCeremony(co); err != nil {
		return err
	}
	opts := []chttp.Option{chttp.WithLogger(l), chttp.WithMetrics()}
	if disk != nil {
		opts = append(opts, chttp.WithDiskStorage(disk))
	}
	access, err := accessLog(conf.Server.AccessLog)
	if err != nil {
		return err
	}
	if access != nil {
		if access != os.Stdout {
			defer access.Close()
		}
		opts = append(opts, chttp.WithAccessLog(access))
	}

	if conf.Metrics.Bind != "" {
		var profile nhttp.Handler
		if conf.Metrics.Pprof {
			profile = pprof.WithProfile()
		}
		lis, err := metrics.Start(conf.Metrics.Bind, profile, nil)
		if err != nil {
			return err
		}
		defer lis.Close()
	}

	srv := &nhttp.Server{
		Addr:              conf.Server.Listen,
		Handler:           chttp.New(co, authn, chunkStorage, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			l.Warnw("shutting down", "err", err)
		}
	}()

	l.Infow("serving ceremony", "listen", conf.Server.Listen, "public_url", conf.PublicURL(),
		"store", conf.Store.Backend, "storage", conf.Storage.Backend, "auth", conf.Auth.Strategy)
	switch {
	case conf.Server.TLSSelfSigned:
		host, _, err := net.SplitHostPort(conf.Server.Listen)
		if err != nil || host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		certPath, keyPath, err := selfSignedCert(l, filepath.Dir(conf.Store.Path), host)
		if err != nil {
			return err
		}
		err = srv.ListenAndServeTLS(certPath, keyPath)
		return ignoreClosed(err)
	case conf.Server.TLSCert != "":
		return ignoreClosed(srv.ListenAndServeTLS(conf.Server.TLSCert, conf.Server.TLSKey))
	default:
		return ignoreClosed(srv.ListenAndServe())
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, nhttp.ErrServerClosed) {
		return nil
	}
	return err
}
