package statusd_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/caseworks/caserunner/internal/events"
	"github.com/caseworks/caserunner/internal/model"
	"github.com/caseworks/caserunner/internal/statusd"

	"github.com/stretchr/testify/require"
)

type stubSource struct {
	progress model.BatchProgress
}

func (s stubSource) Progress() model.BatchProgress { return s.progress }

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestProgressEndpoint(t *testing.T) {
	t.Parallel()
	source := stubSource{progress: model.BatchProgress{
		Total:     4,
		Completed: 2,
		Fraction:  0.5,
		Running:   []string{"pslist"},
		Failed:    []string{"netscan"},
	}}
	srv := statusd.New("127.0.0.1:0", source, nil)

	rec := get(t, srv.Handler(), "/api/v1/progress")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got model.BatchProgress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, source.progress, got)
}

func TestEventsEndpoint(t *testing.T) {
	t.Parallel()
	buffer := events.NewBuffer(100)
	buffer.JobStarted("amcache")
	buffer.OutputLine("amcache", "parsed 12 entries")
	buffer.JobFinished("amcache", nil)

	srv := statusd.New("127.0.0.1:0", stubSource{}, buffer)

	rec := get(t, srv.Handler(), "/api/v1/events")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []events.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 3)
	require.Equal(t, events.TypeJobStarted, all[0].Type)

	rec = get(t, srv.Handler(), "/api/v1/events?since=2")
	var tail []events.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tail))
	require.Len(t, tail, 1)
	require.Equal(t, events.TypeJobFinished, tail[0].Type)

	rec = get(t, srv.Handler(), "/api/v1/events?since=99")
	var none []events.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &none))
	require.Empty(t, none)
}

func TestEventsEndpointBadSince(t *testing.T) {
	t.Parallel()
	srv := statusd.New("127.0.0.1:0", stubSource{}, events.NewBuffer(10))
	require.Equal(t, http.StatusBadRequest, get(t, srv.Handler(), "/api/v1/events?since=abc").Code)
	require.Equal(t, http.StatusBadRequest, get(t, srv.Handler(), "/api/v1/events?since=-1").Code)
}

func TestEventsEndpointDisabled(t *testing.T) {
	t.Parallel()
	srv := statusd.New("127.0.0.1:0", stubSource{}, nil)
	require.Equal(t, http.StatusNotFound, get(t, srv.Handler(), "/api/v1/events").Code)
}
