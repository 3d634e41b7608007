package main

import (
	"context"
	"fmt"
	"log"
	"os"

	echoapi "github.com/trezcool/clubhub/apps/api/echo"
	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/achievement"
	"github.com/trezcool/clubhub/core/event"
	"github.com/trezcool/clubhub/core/registration"
	"github.com/trezcool/clubhub/core/user"
	cachesvc "github.com/trezcool/clubhub/services/cache"
	emailsvc "github.com/trezcool/clubhub/services/email"
	logsvc "github.com/trezcool/clubhub/services/logger"
	"github.com/trezcool/clubhub/storage/database"
	sqlxrepos "github.com/trezcool/clubhub/storage/database/sqlx"
)

func main() {
	core.InitConf()

	// =========================================================================
	// Set up Dependencies

	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	var logger core.Logger
	if core.Conf.Debug {
		logger = logsvc.NewStdLogger(stdLogger)
	} else {
		rollbarLogger := logsvc.NewRollbarLogger(stdLogger, core.Conf)
		rollbarLogger.Enable(true)
		logger = rollbarLogger
	}

	// set up DB
	if err := database.CreateIfNotExist(core.Conf); err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	db, err := database.Open(core.Conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer func() { _ = db.Close() }()
	if err = database.Migrate(db.DB); err != nil {
		logger.Fatal(fmt.Sprintf("migrating database: %v", err), err)
	}

	// set up services
	var mailSvc core.EmailService
	if core.Conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}

	var achCache achievement.Cache
	if core.Conf.Redis.Addr != "" {
		achCache, err = cachesvc.NewLeaderboardCache(core.Conf, logger)
		if err != nil {
			logger.Warn(fmt.Sprintf("redis unavailable, running without leaderboard cache: %v", err))
			achCache = nil
		}
	}

	usrRepo := sqlxrepos.NewUserRepository(db)
	evtRepo := sqlxrepos.NewEventRepository(db)
	regRepo := sqlxrepos.NewRegistrationRepository(db)
	achRepo := sqlxrepos.NewAchievementRepository(db)

	usrSvc := user.NewService(usrRepo)
	evtSvc := event.NewService(evtRepo, logger)
	achSvc := achievement.NewService(achRepo, usrRepo, mailSvc, achCache, logger)
	regSvc := registration.NewService(regRepo, evtRepo, usrRepo, achSvc, mailSvc, logger)

	// =========================================================================
	// Start API Service

	logger.Info(fmt.Sprintf("Application initializing : version %q", core.Conf.Build))
	defer logger.Info("Application stopped")

	server := echoapi.NewServer(&echoapi.Options{
		Address:         core.Conf.Server.Address(),
		Logger:          logger,
		UserSvc:         usrSvc,
		EventSvc:        evtSvc,
		RegistrationSvc: regSvc,
		AchievementSvc:  achSvc,
	})

	go server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), core.Conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}
