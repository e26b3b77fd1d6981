package database

import (
	stdsql "database/sql"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/arpanauts/biomapper-sub014/pkg/job"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

// Shared container for every test in this package, started once, mirroring
// the teacher's test/util/database.go shared-testcontainer pattern.
var (
	containerHost string
	containerPort string
	containerOnce sync.Once
	containerErr  error
)

func getOrStartSharedPostgres(t *testing.T) (host, port string) {
	t.Helper()
	containerOnce.Do(func() {
		ctx := context.Background()
		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("biomapper_test"),
			postgres.WithUsername("biomapper"),
			postgres.WithPassword("biomapper"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("start postgres container: %w", err)
			return
		}

		mappedHost, err := pgContainer.Host(ctx)
		if err != nil {
			containerErr = fmt.Errorf("resolve container host: %w", err)
			return
		}
		mappedPort, err := pgContainer.MappedPort(ctx, "5432/tcp")
		if err != nil {
			containerErr = fmt.Errorf("resolve container port: %w", err)
			return
		}
		containerHost = mappedHost
		containerPort = mappedPort.Port()
	})
	require.NoError(t, containerErr, "failed to start shared postgres test container")
	return containerHost, containerPort
}

// generateDatabaseName creates a unique, Postgres-safe database name for
// test isolation, mirroring the teacher's GenerateSchemaName.
func generateDatabaseName(t *testing.T) string {
	t.Helper()
	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	if len(name) > 32 {
		name = name[:32]
	}
	randomBytes := make([]byte, 4)
	_, err := rand.Read(randomBytes)
	require.NoError(t, err)
	return fmt.Sprintf("db_%s_%s", name, hex.EncodeToString(randomBytes))
}

// newTestClient provisions a dedicated database on the shared container for
// this test, connects a Client to it (applying migrations), and registers
// cleanup to drop the database afterward.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	host, port := getOrStartSharedPostgres(t)
	portNum := 0
	_, err := fmt.Sscanf(port, "%d", &portNum)
	require.NoError(t, err)

	adminDSN := fmt.Sprintf("postgres://biomapper:biomapper@%s:%s/biomapper_test?sslmode=disable", host, port)
	admin, err := stdsql.Open("pgx", adminDSN)
	require.NoError(t, err)
	defer admin.Close()

	dbName := generateDatabaseName(t)
	_, err = admin.Exec(fmt.Sprintf("CREATE DATABASE %s", dbName))
	require.NoError(t, err)
	t.Cleanup(func() {
		cleanup, err := stdsql.Open("pgx", adminDSN)
		if err != nil {
			return
		}
		defer cleanup.Close()
		_, _ = cleanup.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s", dbName))
	})

	cfg := Config{
		Host:         host,
		Port:         portNum,
		User:         "biomapper",
		Password:     "biomapper",
		Database:     dbName,
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func sampleJob(id string) *model.Job {
	return &model.Job{
		JobID:        id,
		StrategyName: "demo_strategy",
		Parameters:   map[string]any{"k": "v"},
		Status:       model.JobStatusPending,
		SubmittedAt:  time.Now().Truncate(time.Millisecond),
	}
}

func TestJobStore_SaveThenGetRoundTrips(t *testing.T) {
	client := newTestClient(t)
	store := NewJobStore(client)

	j := sampleJob("job-1")
	require.NoError(t, store.Save(context.Background(), j))

	got, err := store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "demo_strategy", got.StrategyName)
	assert.Equal(t, "v", got.Parameters["k"])
	assert.Equal(t, model.JobStatusPending, got.Status)
}

func TestJobStore_GetMissingReturnsErrNotFound(t *testing.T) {
	client := newTestClient(t)
	store := NewJobStore(client)

	_, err := store.Get(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestJobStore_SaveUpsertsOnConflict(t *testing.T) {
	client := newTestClient(t)
	store := NewJobStore(client)

	j := sampleJob("job-1")
	require.NoError(t, store.Save(context.Background(), j))

	j.Status = model.JobStatusRunning
	j.Revision = 1
	require.NoError(t, store.Save(context.Background(), j))

	got, err := store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, got.Status)
	assert.Equal(t, 1, got.Revision)
}

func TestJobStore_ClaimPendingLocksAndMarksRunning(t *testing.T) {
	client := newTestClient(t)
	store := NewJobStore(client)

	require.NoError(t, store.Save(context.Background(), sampleJob("job-older")))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.Save(context.Background(), sampleJob("job-newer")))

	claimed, err := store.ClaimPending(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "job-older", claimed.JobID)
	assert.Equal(t, model.JobStatusRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)
}

func TestJobStore_ClaimPendingReturnsNilWhenNoneAvailable(t *testing.T) {
	client := newTestClient(t)
	store := NewJobStore(client)

	claimed, err := store.ClaimPending(context.Background())
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestJobStore_RecoverInFlightMarksNonTerminalAsFailed(t *testing.T) {
	client := newTestClient(t)
	store := NewJobStore(client)

	running := sampleJob("job-running")
	running.Status = model.JobStatusRunning
	require.NoError(t, store.Save(context.Background(), running))

	succeeded := sampleJob("job-succeeded")
	succeeded.Status = model.JobStatusSucceeded
	require.NoError(t, store.Save(context.Background(), succeeded))

	n, err := store.RecoverInFlight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(context.Background(), "job-running")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "process_restart", got.RestartReason)

	stillOK, err := store.Get(context.Background(), "job-succeeded")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSucceeded, stillOK.Status)
}

func TestJobStore_ListOrdersBySubmittedAtDescending(t *testing.T) {
	client := newTestClient(t)
	store := NewJobStore(client)

	older := sampleJob("job-a")
	older.SubmittedAt = time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	require.NoError(t, store.Save(context.Background(), older))

	newer := sampleJob("job-b")
	require.NoError(t, store.Save(context.Background(), newer))

	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "job-b", list[0].JobID)
	assert.Equal(t, "job-a", list[1].JobID)
}
