package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kpsipet/pengaduan/core"
	"github.com/kpsipet/pengaduan/core/complaint"
	"github.com/kpsipet/pengaduan/core/messaging"
	logsvc "github.com/kpsipet/pengaduan/services/logger"
	whatsappsvc "github.com/kpsipet/pengaduan/services/whatsapp"
	"github.com/kpsipet/pengaduan/storage/database"
	sqlxrepos "github.com/kpsipet/pengaduan/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stderr, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	// set up the messaging session
	container, err := whatsappsvc.OpenStore(db.DB, conf.Database.Engine, whatsappsvc.NewLogger(logger, "Store", conf.WhatsApp.LogLevel))
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening whatsapp store: %v", err), err)
	}
	manager := messaging.NewManager(
		whatsappsvc.NewTransportFactory(container, conf.WhatsApp, whatsappsvc.NewLogger(logger, "WhatsApp", conf.WhatsApp.LogLevel)),
		logger,
	)

	validate, _ := core.NewValidator()
	complaintSvc := complaint.NewService(
		sqlxrepos.NewComplaintRepository(db),
		manager,
		nil, // letters are only archived when approved
		validate,
		logger,
		conf,
	)

	// start CLI
	cli := commandLine{
		conf:         conf,
		db:           db.DB,
		session:      manager,
		complaintSvc: complaintSvc,
		out:          os.Stdout,
		resumeWait:   30 * time.Second,
		pollInterval: 500 * time.Millisecond,
	}
	err = cli.run(os.Args)

	manager.Close()
	_ = db.Close()
	logger.Wait()

	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %s", err), err)
			logger.Wait()
		}
		os.Exit(1)
	}
}
