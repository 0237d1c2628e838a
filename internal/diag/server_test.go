package diag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"natlinkd/internal/transport/loopback"
	"natlinkd/pkg/natbus/factory"
)

func buildTestExtension(t *testing.T) *factory.Built {
	t.Helper()
	bus := loopback.NewBus()
	built, err := factory.Build(factory.Spec{Serial: 7, DeviceType: 0x0014, HardwareVersion: 1, FirmwareVersion: 1}, bus.NewPort(), nil)
	require.NoError(t, err)
	return built
}

func TestHandleExtensionsReportsState(t *testing.T) {
	built := buildTestExtension(t)
	s := NewServer(":0", built)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/extensions", nil)
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Extensions []ExtensionStatus `json:"extensions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Extensions, 1)
	assert.Equal(t, uint32(7), body.Extensions[0].Serial)
	assert.Equal(t, "offline", body.Extensions[0].State)
}

func TestHandleUptimeReportsNonEmptyDuration(t *testing.T) {
	s := NewServer(":0", buildTestExtension(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/uptime", nil)
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["uptime"])
}

func TestServerRunShutsDownOnContextCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", buildTestExtension(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	}
}
