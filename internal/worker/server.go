package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"canvas-collab/internal/repository"
	"canvas-collab/internal/service"
	"canvas-collab/internal/tasks"
)

// WorkerServer 封装了 Asynq Worker Server 的启动和关闭逻辑。
type WorkerServer struct {
	server          *asynq.Server
	log             *logrus.Entry
	snapshotService *service.SnapshotService
	roomRepo        repository.RoomRepository
	stateRepo       repository.StateRepository
}

// NewWorkerServer 创建 WorkerServer 实例。
func NewWorkerServer(
	redisOpt asynq.RedisClientOpt,
	snapshotService *service.SnapshotService,
	roomRepo repository.RoomRepository,
	stateRepo repository.StateRepository,
	logger *logrus.Logger,
) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID := ""
				if rw := task.ResultWriter(); rw != nil {
					taskID = rw.TaskID()
				}
				retryCount, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_id":   taskID,
					"task_type": task.Type(),
					"retries":   retryCount,
					"max_retry": maxRetry,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	return &WorkerServer{
		server:          server,
		log:             logEntry,
		snapshotService: snapshotService,
		roomRepo:        roomRepo,
		stateRepo:       stateRepo,
	}
}

// Start 运行 Worker Server。应该在单独的 goroutine 中调用。
func (ws *WorkerServer) Start() {
	mux := asynq.NewServeMux()

	snapshotHandler := NewSnapshotPersistHandler(ws.snapshotService, ws.stateRepo)
	mux.HandleFunc(tasks.TypeSnapshotPersist, snapshotHandler.ProcessTask)

	expiryHandler := NewRoomExpirySweepHandler(ws.roomRepo, ws.stateRepo)
	mux.HandleFunc(tasks.TypeRoomExpirySweep, expiryHandler.ProcessTask)

	ws.log.Info("Worker server starting...")
	if err := ws.server.Run(mux); err != nil {
		if !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		} else {
			ws.log.Info("Worker server stopped.")
		}
	}
}

// Shutdown 优雅地关闭 Worker Server。
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server...")
	ws.server.Shutdown()
	ws.log.Info("Worker server shut down complete.")
}
