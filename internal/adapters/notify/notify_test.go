package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/okian/repairflow/internal/adapters/notify"
	"github.com/okian/repairflow/internal/domain/model"
	"github.com/okian/repairflow/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type failing struct{ err error }

func (f failing) Notify(context.Context, notify.Message) error { return f.err }

func TestWebhookNotifier(t *testing.T) {
	convey.Convey("Given a webhook endpoint", t, func() {
		var got notify.Message
		status := http.StatusAccepted
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(status)
		}))
		defer srv.Close()
		n := notify.NewWebhookNotifier(srv.URL, notify.WithHTTPClient(srv.Client()))
		msg := notify.Message{JobID: "job-1", Level: 2, Action: model.ActionSMSAndEmail, State: model.StateTesting}

		convey.Convey("When the endpoint accepts", func() {
			err := n.Notify(context.Background(), msg)
			convey.So(err, convey.ShouldBeNil)
			convey.So(got.JobID, convey.ShouldEqual, "job-1")
			convey.So(got.Action, convey.ShouldEqual, model.ActionSMSAndEmail)
		})

		convey.Convey("When the endpoint rejects", func() {
			status = http.StatusBadGateway
			err := notify.Dispatch(context.Background(), n, time.Second, msg)
			var de *notify.DispatchError
			convey.So(errors.As(err, &de), convey.ShouldBeTrue)
			convey.So(de.Level, convey.ShouldEqual, 2)
			convey.So(errors.Is(err, notify.ErrDispatch), convey.ShouldBeTrue)
		})
	})
}

func TestMultiAndLog(t *testing.T) {
	convey.Convey("Given a fan-out with one failing notifier", t, func() {
		boom := errors.New("smtp down")
		m := notify.Multi{notify.NewLogNotifier(logger.NewNop()), failing{boom}}

		convey.Convey("Then the failure surfaces wrapped", func() {
			err := notify.Dispatch(context.Background(), m, 0, notify.Message{JobID: "job-2", Level: 1})
			convey.So(errors.Is(err, boom), convey.ShouldBeTrue)
			convey.So(errors.Is(err, notify.ErrDispatch), convey.ShouldBeTrue)
		})
	})
}
