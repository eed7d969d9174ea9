package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/repairflow/internal/config"
	"github.com/okian/repairflow/internal/domain/assignment"
	"github.com/okian/repairflow/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

const rosterYAML = `
technicians:
  - id: ana
    skills: [screen_repair]
    location: {lat: 52.52, lng: 13.405}
    performance_score: 90
  - id: ben
    skills: [screen_repair, battery]
    location: {lat: 52.60, lng: 13.50}
    performance_score: 60
  - id: cem
    skills: [battery]
    location: {lat: 52.52, lng: 13.405}
    performance_score: 99
`

const jobYAML = `
id: job-7
priority: medium
required_skills: [screen_repair]
location: {lat: 52.52, lng: 13.405}
estimated_hours: 2
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRootCommand(t *testing.T) {
	convey.Convey("Given the root command", t, func() {
		root := newRootCommand()

		convey.Convey("Then it exposes serve, rank and simulate", func() {
			var names []string
			for _, c := range root.Commands() {
				names = append(names, c.Name())
			}
			convey.So(names, convey.ShouldContain, "serve")
			convey.So(names, convey.ShouldContain, "rank")
			convey.So(names, convey.ShouldContain, "simulate")
			convey.So(root.PersistentFlags().Lookup("config"), convey.ShouldNotBeNil)
		})
	})
}

func TestRankCommand(t *testing.T) {
	convey.Convey("Given a roster and a job spec on disk", t, func() {
		rosterPath := writeFile(t, "roster.yaml", rosterYAML)
		jobPath := writeFile(t, "job.yaml", jobYAML)

		root := newRootCommand()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(io.Discard)

		convey.Convey("When rank runs offline", func() {
			root.SetArgs([]string{"rank", "--config", "", "--job", jobPath, "--roster", rosterPath, "--at", "2026-03-02T09:00:00Z"})
			err := root.ExecuteContext(context.Background())

			convey.Convey("Then the closest strong technician wins", func() {
				convey.So(err, convey.ShouldBeNil)
				var res assignment.Result
				convey.So(json.Unmarshal(out.Bytes(), &res), convey.ShouldBeNil)
				convey.So(res.JobID, convey.ShouldEqual, "job-7")
				convey.So(res.Winner.TechnicianID, convey.ShouldEqual, "ana")
				convey.So(res.Considered, convey.ShouldEqual, 3)
				convey.So(res.Alternatives, convey.ShouldHaveLength, 1)
				convey.So(res.Alternatives[0].TechnicianID, convey.ShouldEqual, "ben")
			})
		})

		convey.Convey("When a required flag is missing", func() {
			root.SetArgs([]string{"rank", "--config", "", "--job", jobPath})
			err := root.ExecuteContext(context.Background())

			convey.Convey("Then the command fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "roster")
			})
		})
	})
}

func TestNewApplication(t *testing.T) {
	convey.Convey("Given a config with a roster and a sqlite store", t, func() {
		ctx := context.Background()
		cfg := config.New(ctx)
		cfg.Store.Driver = "sqlite"
		cfg.Store.DSN = filepath.Join(t.TempDir(), "repairflow.db")
		cfg.Store.RosterPath = writeFile(t, "roster.yaml", rosterYAML)
		cfg.Service.Shards = 2
		convey.So(cfg.Validate(), convey.ShouldBeNil)

		app, err := newApplication(ctx, cfg, logger.NewNop())
		convey.So(err, convey.ShouldBeNil)
		defer app.svc.Stop()

		get := func(path string) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			app.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			return w
		}

		convey.Convey("Then the roster is served from the store", func() {
			w := get("/v1/technicians/ana")
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `"id":"ana"`)
		})

		convey.Convey("Then health, stats and docs are routed", func() {
			convey.So(get("/healthz").Code, convey.ShouldEqual, http.StatusOK)
			stats := get("/stats")
			convey.So(stats.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(stats.Body.String(), convey.ShouldContainSubstring, `"technicians":3`)
			doc := get("/openapi.yaml")
			convey.So(doc.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(strings.HasPrefix(doc.Body.String(), "openapi:"), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given a config pointing at a missing roster", t, func() {
		ctx := context.Background()
		cfg := config.New(ctx)
		cfg.Store.RosterPath = filepath.Join(t.TempDir(), "missing.yaml")

		convey.Convey("Then the application does not start", func() {
			_, err := newApplication(ctx, cfg, logger.NewNop())
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "seed roster")
		})
	})
}
