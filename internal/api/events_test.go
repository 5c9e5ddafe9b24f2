package api

import (
	"bufio"
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/inspection.station/internal/config"
	"github.com/banshee-data/inspection.station/internal/serialmux"
	"github.com/banshee-data/inspection.station/internal/testutil"
)

// readSSE returns the next non-comment event block from r.
func readSSE(t *testing.T, r *bufio.Reader) (name, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			return name, data
		}
	}
}

func openStream(t *testing.T, url string) *bufio.Reader {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	ping, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": ping\n", ping)
	return r
}

func TestEvents_Stream(t *testing.T) {
	f := newAPIFixture(t, ServerConfig{})
	ts := httptest.NewServer(f.mux)
	t.Cleanup(ts.Close)

	r := openStream(t, ts.URL+"/api/serial/events")
	require.Eventually(t, func() bool { return f.srv.Broker().Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	f.saveDevices(t)
	name, data := readSSE(t, r)
	assert.Equal(t, serialmux.EventStatus, name)
	assert.Contains(t, data, `"device_id":"scanner-1"`)
	assert.Contains(t, data, `"connected":true`)

	f.ports.Port("COM3").AddReadData([]byte("SN123\r\n"))
	name, data = readSSE(t, r)
	assert.Equal(t, serialmux.EventData, name)
	assert.Contains(t, data, `"data":[83,78,49,50,51]`)
	assert.Contains(t, data, `"data_str":"SN123"`)
	assert.Contains(t, data, `"role":"scanner"`)
}

func TestEvents_FilterByDevice(t *testing.T) {
	f := newAPIFixture(t, ServerConfig{})
	ts := httptest.NewServer(f.mux)
	t.Cleanup(ts.Close)

	r := openStream(t, ts.URL+"/api/serial/events?device_id=robot")
	require.Eventually(t, func() bool { return f.srv.Broker().Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	f.srv.Broker().Emit(serialmux.Event{Name: serialmux.EventStatus, Payload: serialmux.StatusPayload{DeviceID: "scanner"}})
	f.srv.Broker().Emit(serialmux.Event{Name: serialmux.EventError, Payload: serialmux.ErrorPayload{DeviceID: "robot", Error: "gone"}})

	name, data := readSSE(t, r)
	assert.Equal(t, serialmux.EventError, name)
	assert.Contains(t, data, `"error":"gone"`)
}

func TestEvents_EndsWhenBrokerCloses(t *testing.T) {
	f := newAPIFixture(t, ServerConfig{})
	ts := httptest.NewServer(f.mux)
	t.Cleanup(ts.Close)

	r := openStream(t, ts.URL+"/api/serial/events")
	require.Eventually(t, func() bool { return f.srv.Broker().Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	f.srv.Broker().Close()

	done := make(chan struct{})
	go func() {
		for {
			if _, err := r.ReadString('\n'); err != nil {
				close(done)
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after broker closed")
	}
}

func TestAdminRoutes(t *testing.T) {
	f := newAPIFixture(t, ServerConfig{})
	f.saveDevices(t)
	mux := http.NewServeMux()
	f.srv.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.NewLocalRequest(http.MethodGet, "/debug/serial-devices"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	body := w.Body.String()
	assert.Contains(t, body, "scanner-1")
	assert.Contains(t, body, "Ring light")
	assert.Contains(t, body, "9600 8/None/1")

	req := httptest.NewRequest(http.MethodPost, "/debug/serial-send", strings.NewReader("device_id=scanner-1&command=TRIG"))
	req.RemoteAddr = "127.0.0.1:40000"
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "TRIG\r\n", string(f.ports.Port("COM3").GetWrittenData()))

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.NewLocalRequest(http.MethodPost, "/debug/serial-send"))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.NewLocalRequest(http.MethodPost, "/debug/serial-tail"))
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestAdminRoutes_EmptyConfig(t *testing.T) {
	f := newAPIFixture(t, ServerConfig{})
	mux := http.NewServeMux()
	f.srv.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.NewLocalRequest(http.MethodGet, "/debug/serial-devices"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), "no devices configured")
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/serial/running?x=1", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Contains(t, buf.String(), "418")
	assert.Contains(t, buf.String(), "/api/serial/running?x=1")
	assert.Contains(t, buf.String(), "GET")
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"302"+colorReset, statusCodeColor(302))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, colorBoldRed+"503"+colorReset, statusCodeColor(503))
	assert.Equal(t, "101", statusCodeColor(101))
}

func TestWithDevices(t *testing.T) {
	assert.NotNil(t, withDevices(config.DeviceSet{}).Devices)
}
