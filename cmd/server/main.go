// Command server is the assppweb entrypoint: it loads configuration,
// wires internal/taskstore's Starter to internal/download and
// internal/inject, and serves internal/httpapi behind an optionally
// TLS-terminated http.Server, adapted from the teacher's cmd/webui
// main.go (createServer, graceful shutdown adapted from the pack's
// signal.NotifyContext convention).
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	assppwebtls "github.com/lhbill/assppweb/cmd/server/tls"
	"github.com/lhbill/assppweb/internal/auth"
	"github.com/lhbill/assppweb/internal/blobstore"
	"github.com/lhbill/assppweb/internal/config"
	"github.com/lhbill/assppweb/internal/download"
	"github.com/lhbill/assppweb/internal/httpapi"
	"github.com/lhbill/assppweb/internal/inject"
	"github.com/lhbill/assppweb/internal/janitor"
	"github.com/lhbill/assppweb/internal/jobs"
	"github.com/lhbill/assppweb/internal/logging"
	"github.com/lhbill/assppweb/internal/model"
	"github.com/lhbill/assppweb/internal/taskstore"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a JSON configuration file (unused; configuration is environment-driven)")
		runJanitor = flag.Bool("janitor", false, "run the cleanup sweep once and exit, instead of serving HTTP")
	)
	flag.Parse()
	_ = configPath // accepted for parity with the teacher's -config flag; this server is configured entirely from the environment

	logging.InitGlobalLogger(logging.DefaultConfig())
	log := logging.Global().WithField("component", "server")

	cfg, err := config.Load()
	if err != nil {
		log.Errorf("load configuration: %v", err)
		os.Exit(1)
	}

	blobs, err := buildBlobStore(cfg)
	if err != nil {
		log.Errorf("build blob store: %v", err)
		os.Exit(1)
	}

	jobsRegistry := jobs.NewRegistry()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connectCancel()

	// store is referenced by the Starter closure before it exists: New
	// only invokes the Starter in response to a later create/resume RPC,
	// never during construction, so the indirection below resolves by
	// the time it is actually called.
	var store *taskstore.Store
	starter := starterFor(blobs, func() *taskstore.Store { return store })
	store, err = taskstore.New(connectCtx, taskstore.Config{
		ConnectionString: cfg.Database.DSN,
		MaxConnections:   cfg.Database.MaxConnections,
		ConnectTimeout:   time.Duration(cfg.Database.ConnectTimeoutSec) * time.Second,
	}, jobsRegistry, blobs, starter)
	if err != nil {
		log.Errorf("connect task store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	if *runJanitor {
		j := janitor.New(blobs, store, jobsRegistry)
		cleanup, err := store.GetConfig(ctx)
		if err != nil {
			log.Errorf("load cleanup config: %v", err)
			os.Exit(1)
		}
		if err := j.Run(ctx, cleanup.AutoCleanupDays, cleanup.AutoCleanupMaxMB); err != nil {
			log.Errorf("janitor sweep: %v", err)
			os.Exit(1)
		}
		log.Info("janitor sweep complete")
		return
	}

	gate, err := auth.New(store, cfg.Auth.PowDifficulty)
	if err != nil {
		log.Errorf("build auth gate: %v", err)
		os.Exit(1)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Tasks:   store,
		Blobs:   blobs,
		Auth:    gate,
		Janitor: janitor.New(blobs, store, jobsRegistry),
		Config:  cfg,
	})

	server, err := buildServer(cfg, router)
	if err != nil {
		log.Errorf("build HTTP server: %v", err)
		os.Exit(1)
	}

	serveErrCh := make(chan error, 1)
	go func() {
		scheme := "http"
		if cfg.Server.TLSEnabled {
			scheme = "https"
		}
		log.Infof("listening on %s://%s", scheme, server.Addr)
		if cfg.Server.TLSEnabled {
			serveErrCh <- server.ListenAndServeTLS("", "")
		} else {
			serveErrCh <- server.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErrCh:
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("graceful shutdown: %v", err)
	}
	log.Info("server stopped")
}

// buildBlobStore wraps an S3-compatible client (R2 in production) per
// SPEC_FULL.md's storage section, configured from StorageConfig rather
// than the SDK's own environment/profile discovery, since the deployer
// supplies R2 credentials directly.
func buildBlobStore(cfg *config.Config) (blobstore.Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Storage.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.Storage.S3AccessKeyID, cfg.Storage.S3SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3Endpoint)
		}
		o.UsePathStyle = true
	})

	return blobstore.NewS3Store(client, cfg.Storage.S3Bucket), nil
}

// starterFor builds the taskstore.Starter that chains the download
// engine and the injection step, per spec.md §4.D-§4.E: fetch into the
// artifact key, mark injecting, append the signature files in place,
// and record completion or failure. It never sets status on context
// cancellation, since the RPC that cancelled the context already set
// the status (paused or deleted).
func starterFor(blobs blobstore.Store, storeOf func() *taskstore.Store) taskstore.Starter {
	engine := download.NewEngine(blobs, nil)

	return func(ctx context.Context, task *model.Task) {
		log := logging.Global().WithField("component", "server.worker").WithField("taskId", task.TaskID)
		store := storeOf()
		key := model.ArtifactKey(task.AccountHash, task.Software.BundleID, task.TaskID)

		if err := store.MarkDownloading(ctx, task.TaskID); err != nil {
			log.Warnf("mark downloading: %v", err)
		}

		sink := func(p download.Progress) {
			percent := 0
			if p.Total > 0 {
				percent = int(p.Downloaded * 100 / p.Total)
			}
			if err := store.UpdateProgress(ctx, task.TaskID, percent, p.Speed); err != nil {
				log.Warnf("update progress: %v", err)
			}
		}

		if err := engine.Run(ctx, task.DownloadURL, key, sink); err != nil {
			if ctx.Err() != nil {
				log.Info("download cancelled")
				return
			}
			log.Warnf("download failed: %v", err)
			if ferr := store.FailTask(ctx, task.TaskID, err.Error()); ferr != nil {
				log.Warnf("record failure: %v", ferr)
			}
			return
		}

		if err := store.MarkInjecting(ctx, task.TaskID); err != nil {
			log.Warnf("mark injecting: %v", err)
		}

		if err := inject.Apply(ctx, blobs, key, task); err != nil {
			log.Warnf("injection failed: %v", err)
			if ferr := store.FailTask(ctx, task.TaskID, err.Error()); ferr != nil {
				log.Warnf("record failure: %v", ferr)
			}
			return
		}

		info, err := blobs.Head(ctx, key)
		var size int64
		if err == nil {
			size = info.Size
		}
		if err := store.CompleteTask(ctx, task.TaskID, key, size); err != nil {
			log.Warnf("record completion: %v", err)
		}
	}
}

// buildServer assembles the http.Server, loading or generating a TLS
// certificate the same way the teacher's createServer does, via the
// adapted cmd/server/tls generator.
func buildServer(cfg *config.Config, handler http.Handler) (*http.Server, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	server := &http.Server{
		Addr:           addr,
		Handler:        handler,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	if !cfg.Server.TLSEnabled {
		return server, nil
	}

	var certFile, keyFile string
	if cfg.Server.TLSAutoGen {
		certDir, err := assppwebtls.GetDefaultCertificateDir()
		if err != nil {
			return nil, fmt.Errorf("get certificate directory: %w", err)
		}
		generator := assppwebtls.NewCertificateGenerator(certDir)
		certFile, keyFile, err = generator.LoadOrGenerateCertificate(cfg.Server.TLSHosts)
		if err != nil {
			return nil, fmt.Errorf("load or generate certificate: %w", err)
		}
	} else {
		certFile, keyFile = cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS certificate: %w", err)
	}

	server.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}

	return server, nil
}
