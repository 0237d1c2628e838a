// Package diag exposes a read-only HTTP diagnostics surface over the
// running natbus devices: current lifecycle state, NAT addressing, and
// host resource usage. It is explicitly not the interactive operator
// console (out of scope) — there is nothing here to configure or drive
// the bus from, only to observe it.
package diag

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	psutil "github.com/shirou/gopsutil/v3/cpu"
	psmem "github.com/shirou/gopsutil/v3/mem"

	"natlinkd/pkg/natbus/factory"
)

// DeviceStatus is the JSON shape reported for one device.
type DeviceStatus struct {
	DeviceId byte   `json:"device_id"`
	Serial   uint32 `json:"serial"`
	State    string `json:"state"`
}

// ExtensionStatus reports an extension and its children.
type ExtensionStatus struct {
	NatId    byte           `json:"nat_id"`
	Serial   uint32         `json:"serial"`
	State    string         `json:"state"`
	Children []DeviceStatus `json:"children"`
}

// HostStatus reports host resource usage via gopsutil, mirroring the
// teacher's CLI dashboard's use of cpu.Percent/mem.VirtualMemory.
type HostStatus struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// Server is the diagnostics HTTP server.
type Server struct {
	built     []*factory.Built
	startedAt time.Time
	httpSrv   *http.Server
}

// NewServer wraps a set of built extensions for diagnostics reporting.
func NewServer(addr string, built ...*factory.Built) *Server {
	s := &Server{built: built, startedAt: time.Now()}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/extensions", s.handleExtensions)
		api.GET("/host", s.handleHost)
		api.GET("/uptime", s.handleUptime)
	}

	s.httpSrv = &http.Server{Addr: addr, Handler: router}
	return s
}

// Run starts serving until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) handleExtensions(c *gin.Context) {
	out := make([]ExtensionStatus, 0, len(s.built))
	for _, b := range s.built {
		ext := b.Extension
		status := ExtensionStatus{
			NatId:  ext.NatId(),
			Serial: ext.Self.Identity.Serial,
			State:  ext.Self.State().String(),
		}
		for deviceId, child := range ext.ChildrenSnapshot() {
			status.Children = append(status.Children, DeviceStatus{
				DeviceId: deviceId,
				Serial:   child.Self.Identity.Serial,
				State:    child.Self.State().String(),
			})
		}
		out = append(out, status)
	}
	c.JSON(http.StatusOK, gin.H{"extensions": out})
}

func (s *Server) handleHost(c *gin.Context) {
	cpuPercent, _ := psutil.Percent(0, false)
	memInfo, _ := psmem.VirtualMemory()

	status := HostStatus{}
	if len(cpuPercent) > 0 {
		status.CPUPercent = cpuPercent[0]
	}
	if memInfo != nil {
		status.MemoryPercent = memInfo.UsedPercent
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleUptime(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"uptime": time.Since(s.startedAt).String()})
}
