//go:build postgres_integration

package store

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"netopt/internal/model"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	if err := p.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := p.Migrate(t.Context()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	run := model.Run{ID: uuid.New().String(), Name: "it", Status: model.RunPending, CreatedAt: time.Now().UTC()}
	if err := p.CreateRun(t.Context(), run, []byte(`{"name":"it"}`)); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	now := time.Now().UTC()
	run.Status, run.FinishedAt, run.Result = model.RunSucceeded, &now, &model.IntegratedRunResult{Name: "it"}
	if err := p.UpdateRun(t.Context(), run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	got, err := p.GetRun(t.Context(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.RunSucceeded || got.Result == nil {
		t.Fatalf("unexpected run %+v", got)
	}
	if _, _, err := p.ListRuns(t.Context(), "", "", 1); err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
}
