package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/rawshake/internal/packet"
)

func TestRecorder(t *testing.T) {
	var r Recorder

	synBefore := testutil.ToFloat64(PacketsSentTotal.WithLabelValues("syn"))
	recvBefore := testutil.ToFloat64(PacketsReceivedTotal)
	ackDiscBefore := testutil.ToFloat64(PacketsDiscardedTotal.WithLabelValues(string(packet.ReasonWrongAck)))
	errBefore := testutil.ToFloat64(ReceiveErrorsTotal)
	okBefore := testutil.ToFloat64(HandshakeResultTotal.WithLabelValues("ESTABLISHED"))

	r.PacketSent("syn")
	r.PacketReceived(packet.ReasonWrongAck)
	r.PacketReceived(packet.ReasonAccepted)
	r.ReceiveError()
	r.Finished("ESTABLISHED", 3*time.Millisecond)

	assert.Equal(t, synBefore+1, testutil.ToFloat64(PacketsSentTotal.WithLabelValues("syn")))
	assert.Equal(t, recvBefore+2, testutil.ToFloat64(PacketsReceivedTotal))
	assert.Equal(t, ackDiscBefore+1, testutil.ToFloat64(PacketsDiscardedTotal.WithLabelValues(string(packet.ReasonWrongAck))))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(ReceiveErrorsTotal))
	assert.Equal(t, okBefore+1, testutil.ToFloat64(HandshakeResultTotal.WithLabelValues("ESTABLISHED")))
}

func TestWriteTextfile(t *testing.T) {
	Recorder{}.PacketSent("ack")

	path := filepath.Join(t.TempDir(), "rawshake.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `rawshake_packets_sent_total{kind="ack"}`)
}

func TestWriteTextfileBadPath(t *testing.T) {
	err := WriteTextfile(filepath.Join(t.TempDir(), "missing", "rawshake.prom"))
	assert.Error(t, err)
}

func TestPush(t *testing.T) {
	Recorder{}.PacketSent("syn")

	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, Push(context.Background(), srv.URL, "rawshake"))
	assert.Equal(t, "/metrics/job/rawshake", gotPath)
	assert.True(t, strings.Contains(gotBody, "rawshake_packets_sent_total"))
}

func TestPushRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	assert.Error(t, Push(context.Background(), srv.URL, "rawshake"))
}
