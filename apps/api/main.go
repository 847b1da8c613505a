package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/jmoiron/sqlx"
	"go.mau.fi/whatsmeow/store/sqlstore"

	echoapi "github.com/kpsipet/pengaduan/apps/api/echo"
	"github.com/kpsipet/pengaduan/core"
	"github.com/kpsipet/pengaduan/core/complaint"
	"github.com/kpsipet/pengaduan/core/messaging"
	emailsvc "github.com/kpsipet/pengaduan/services/email"
	logsvc "github.com/kpsipet/pengaduan/services/logger"
	schedulersvc "github.com/kpsipet/pengaduan/services/scheduler"
	whatsappsvc "github.com/kpsipet/pengaduan/services/whatsapp"
	"github.com/kpsipet/pengaduan/storage/database"
	sqlxrepos "github.com/kpsipet/pengaduan/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	waLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "WHATSAPP : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	defer logger.Wait()

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// set up the messaging session
	waStoreLogger := whatsappsvc.NewLogger(dbLogger, "Store", conf.WhatsApp.LogLevel)
	container, err := whatsappsvc.OpenStore(db.DB, conf.Database.Engine, waStoreLogger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening whatsapp store: %v", err), err)
	}
	manager := messaging.NewManager(
		whatsappsvc.NewTransportFactory(container, conf.WhatsApp, whatsappsvc.NewLogger(waLogger, "WhatsApp", conf.WhatsApp.LogLevel)),
		waLogger,
	)
	defer manager.Close()

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(os.Stdout, logger, conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(logger, conf)
	}
	validate, translator := core.NewValidator()
	complaintSvc := complaint.NewService(
		sqlxrepos.NewComplaintRepository(db),
		manager,
		mailSvc,
		validate,
		logger,
		conf,
	)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	if conf.WhatsApp.AutoConnect {
		resumeSession(manager, container, logger)
	}

	scheduler := schedulersvc.New(logger)
	if err = scheduler.ScheduleRedelivery(conf.Redelivery.Schedule, complaintSvc); err != nil {
		logger.Fatal(fmt.Sprintf("scheduling redelivery: %v", err), err)
	}
	scheduler.Start()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.Publish("whatsapp", expvar.Func(func() interface{} { return manager.Status() }))

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:         conf,
			Logger:       logger,
			Manager:      manager,
			ComplaintSvc: complaintSvc,
			Validate:     validate,
			Translator:   translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
		if err = scheduler.Stop(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop scheduler gracefully: %v", err), err)
		}
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// resumeSession reconnects with the stored credentials, so no QR code has to be scanned.
func resumeSession(manager *messaging.Manager, container *sqlstore.Container, logger core.Logger) {
	ok, err := whatsappsvc.HasCredentials(container)
	if err != nil {
		logger.Error("checking whatsapp credentials", err)
		return
	}
	if !ok {
		logger.Info("no whatsapp credentials stored, waiting for a QR code scan")
		return
	}
	if err = manager.Connect(); err != nil {
		logger.Error("resuming whatsapp session", err)
	}
}
