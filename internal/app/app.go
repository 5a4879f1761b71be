package app

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mkcamara/scolaris-core/internal/models"
	"github.com/mkcamara/scolaris-core/internal/notify"
	"github.com/mkcamara/scolaris-core/internal/repository"
	"github.com/mkcamara/scolaris-core/internal/service"
	"github.com/mkcamara/scolaris-core/pkg/config"
	"github.com/mkcamara/scolaris-core/pkg/jobs"
)

// App wires repositories into services and owns the background machinery:
// the reminder dispatch queue and the periodic maintenance sweeps.
type App struct {
	Metrics     *service.MetricsService
	Cache       *service.CacheService
	Schedules   *service.ScheduleService
	Payments    *service.PaymentService
	Discounts   *service.DiscountService
	Arrears     *service.ArrearsService
	Reminders   *service.ReminderService
	Students    *service.StudentService
	Catalog     *service.CatalogService
	Subjects    *service.SubjectService
	Marks       *service.MarkService
	Averages    *service.AverageService
	Projections *service.ProjectionService
	Bus         *service.BusService
	Payroll     *service.PayrollService
	Admin       *service.AdminService

	schools *repository.SchoolRepository
	queue   *jobs.Queue
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds the full service graph. The redis client may be nil; projection
// caching then stays off regardless of configuration.
func New(db *sqlx.DB, redisClient *redis.Client, gateway notify.Gateway, cfg *config.Config, logger *zap.Logger) *App {
	tx := repository.NewTransactor(db)

	schools := repository.NewSchoolRepository(db)
	classes := repository.NewClassRepository(db)
	students := repository.NewStudentRepository(db)
	guardians := repository.NewGuardianRepository(db)
	tariffs := repository.NewTariffRepository(db)
	schedules := repository.NewScheduleRepository(db)
	payments := repository.NewPaymentRepository(db)
	catalog := repository.NewPaymentCatalogRepository(db)
	discounts := repository.NewDiscountRepository(db)
	reminders := repository.NewReminderRepository(db)
	subjects := repository.NewSubjectRepository(db)
	evaluations := repository.NewEvaluationRepository(db)
	marks := repository.NewMarkRepository(db)
	appreciations := repository.NewAppreciationRepository(db)
	bus := repository.NewBusRepository(db)
	payroll := repository.NewPayrollRepository(db)
	users := repository.NewUserRepository(db)
	resets := repository.NewAdminResetRepository(db)

	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logger)
	}
	cacheEnabled := cfg.Reports.CacheEnabled && cacheRepo != nil
	cache := service.NewCacheService(cacheRepo, metrics, cfg.Reports.CacheTTL, logger, cacheEnabled)

	scheduleSvc := service.NewScheduleService(schedules, students, classes, schools, tariffs, logger)
	paymentSvc := service.NewPaymentService(tx, payments, schedules, students, catalog, scheduleSvc, cache, metrics, cfg.Billing, nil, logger)
	discountSvc := service.NewDiscountService(tx, discounts, payments, scheduleSvc, cache, nil, logger)
	arrearsSvc := service.NewArrearsService(schedules, payments, discounts, students, classes, logger)

	app := &App{
		Metrics:   metrics,
		Cache:     cache,
		Schedules: scheduleSvc,
		Payments:  paymentSvc,
		Discounts: discountSvc,
		Arrears:   arrearsSvc,
		schools:   schools,
		logger:    logger,
	}

	// The queue handler closes over the reminder service built right after it.
	app.queue = jobs.NewQueue("reminders", func(ctx context.Context, job jobs.Job) error {
		return app.Reminders.Dispatch(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Reminders.Workers,
		MaxRetries: cfg.Reminders.MaxRetries,
		RetryDelay: cfg.Reminders.RetryDelay,
		Logger:     logger,
	})

	app.Reminders = service.NewReminderService(reminders, students, guardians, classes, schools, arrearsSvc, gateway, app.queue, metrics, cfg.Reminders, logger)
	app.Students = service.NewStudentService(students, classes, schools, guardians, nil, logger)
	app.Catalog = service.NewCatalogService(classes, tariffs, guardians, catalog, students, nil, logger)
	app.Subjects = service.NewSubjectService(subjects, classes, nil, logger)
	app.Marks = service.NewMarkService(evaluations, marks, subjects, students, cache, metrics, nil, logger)
	app.Averages = service.NewAverageService(marks, subjects, students, classes, appreciations, cache, logger)
	app.Projections = service.NewProjectionService(schedules, payments, students, students, discounts, schools, cache, cfg.Billing, logger)
	app.Bus = service.NewBusService(bus, students, guardians, app.Reminders, nil, logger)
	app.Payroll = service.NewPayrollService(tx, payroll, nil, logger)
	app.Admin = service.NewAdminService(tx, users, resets, cache, cfg.Admin, logger)

	return app
}

// Start brings up the dispatch queue, recovers reminders left QUEUED by a
// previous run, and launches the maintenance loop.
func (a *App) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	a.queue.Start(runCtx)

	if n, err := a.Reminders.DrainQueued(runCtx, 500); err != nil {
		a.logger.Warn("reminder recovery failed", zap.Error(err))
	} else if n > 0 {
		a.logger.Info("queued reminders recovered", zap.Int("count", n))
	}

	go a.maintenanceLoop(runCtx)
}

// Stop shuts the maintenance loop and the queue down, waiting for in-flight
// jobs to finish.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
	a.queue.Stop()
}

// maintenanceLoop runs the daily transport sweep for every school. The sweep
// acts as a cross-school system actor.
func (a *App) maintenanceLoop(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	a.sweepBus(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweepBus(ctx)
		}
	}
}

func (a *App) sweepBus(ctx context.Context) {
	system := models.Actor{UserID: "system", Role: models.RoleSuperAdmin}

	schools, err := a.schools.List(ctx, system)
	if err != nil {
		a.logger.Warn("bus sweep: school list failed", zap.Error(err))
		return
	}
	for _, school := range schools {
		if _, err := a.Bus.Sweep(ctx, system, school.ID); err != nil {
			a.logger.Warn("bus sweep failed",
				zap.String("school_id", school.ID),
				zap.Error(err))
		}
	}
}
