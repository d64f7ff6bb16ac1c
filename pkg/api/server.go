package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/rs/zerolog"

	"github.com/roost-io/roost/pkg/attach"
	"github.com/roost-io/roost/pkg/devctl"
	"github.com/roost-io/roost/pkg/log"
	"github.com/roost-io/roost/pkg/metrics"
	"github.com/roost-io/roost/pkg/storage"
	"github.com/roost-io/roost/pkg/timer"
	"github.com/roost-io/roost/pkg/types"
)

// Custom JSON-RPC error codes for device operations.
const (
	codeNotFound      = jrpc2.Code(-32001)
	codeWrongState    = jrpc2.Code(-32002)
	codeDeviceBusy    = jrpc2.Code(-32003)
	codeInvalidParams = jrpc2.Code(-32602)
)

// Server exposes the attachment workflow over JSON-RPC 2.0. Methods are
// served through a jhttp bridge so clients speak plain HTTP POST.
type Server struct {
	manager *attach.Manager
	sched   *timer.Scheduler
	version string
	bridge  jhttp.Bridge
	httpSrv *http.Server
	logger  zerolog.Logger
}

// Config holds the API server dependencies
type Config struct {
	Manager   *attach.Manager
	Scheduler *timer.Scheduler
	Version   string
}

// AttachDiskParams is the input for roost.AttachDisk
type AttachDiskParams struct {
	VMID string          `json:"vm_id"`
	Disk attach.DiskSpec `json:"disk"`
}

// AttachCDROMParams is the input for roost.AttachCDROM
type AttachCDROMParams struct {
	VMID  string           `json:"vm_id"`
	CDROM attach.CDROMSpec `json:"cdrom"`
}

// AttachmentParam is a common input with just an attachment ID
type AttachmentParam struct {
	AttachmentID string `json:"attachment_id"`
}

// SetQoSParams is the input for roost.SetQoS
type SetQoSParams struct {
	AttachmentID string         `json:"attachment_id"`
	QoS          *types.QoSSpec `json:"qos"`
}

// ListAttachmentsParams is the input for roost.ListAttachments
type ListAttachmentsParams struct {
	VMID string `json:"vm_id,omitempty"`
}

// VersionResult is the response for roost.Version
type VersionResult struct {
	Version string `json:"version"`
}

// EmptyResult is a placeholder for methods that return no data
type EmptyResult struct{}

// NewServer creates an API server with its method handlers and bridge
func NewServer(cfg Config) *Server {
	s := &Server{
		manager: cfg.Manager,
		sched:   cfg.Scheduler,
		version: cfg.Version,
		logger:  log.WithComponent("api"),
	}

	methods := handler.Map{
		"roost.Version":         handler.New(s.getVersion),
		"roost.AttachDisk":      handler.New(s.attachDisk),
		"roost.AttachCDROM":     handler.New(s.attachCDROM),
		"roost.Detach":          handler.New(s.detach),
		"roost.Eject":           handler.New(s.eject),
		"roost.SetQoS":          handler.New(s.setQoS),
		"roost.ListDevices":     handler.New(s.listDevices),
		"roost.ListAttachments": handler.New(s.listAttachments),
		"roost.SchedulerStats":  handler.New(s.schedulerStats),
	}

	s.bridge = jhttp.NewBridge(methods, nil)
	return s
}

// Handler returns the HTTP handler serving the JSON-RPC bridge
func (s *Server) Handler() http.Handler {
	return s.bridge
}

// Start begins serving on the given address in the background
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.httpSrv = &http.Server{
		Handler:      s.bridge,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("API server listening")
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server failed")
		}
	}()
	return nil
}

// Stop shuts down the HTTP server and the bridge
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.bridge.Close()
	return err
}

func (s *Server) getVersion(_ context.Context) (*VersionResult, error) {
	return &VersionResult{Version: s.version}, nil
}

func (s *Server) attachDisk(_ context.Context, p *AttachDiskParams) (*types.Attachment, error) {
	if p.VMID == "" {
		return nil, s.fail("roost.AttachDisk", &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: vm_id"})
	}
	if p.Disk.Name == "" {
		return nil, s.fail("roost.AttachDisk", &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: disk.name"})
	}
	att, err := s.manager.AttachDisk(p.VMID, p.Disk)
	if err != nil {
		return nil, s.fail("roost.AttachDisk", wrapErr(err))
	}
	s.ok("roost.AttachDisk")
	return att, nil
}

func (s *Server) attachCDROM(_ context.Context, p *AttachCDROMParams) (*types.Attachment, error) {
	if p.VMID == "" {
		return nil, s.fail("roost.AttachCDROM", &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: vm_id"})
	}
	if p.CDROM.ImagePath == "" {
		return nil, s.fail("roost.AttachCDROM", &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: cdrom.image_path"})
	}
	att, err := s.manager.AttachCDROM(p.VMID, p.CDROM)
	if err != nil {
		return nil, s.fail("roost.AttachCDROM", wrapErr(err))
	}
	s.ok("roost.AttachCDROM")
	return att, nil
}

func (s *Server) detach(_ context.Context, p *AttachmentParam) (*EmptyResult, error) {
	if err := s.manager.DetachDisk(p.AttachmentID); err != nil {
		return nil, s.fail("roost.Detach", wrapErr(err))
	}
	s.ok("roost.Detach")
	return &EmptyResult{}, nil
}

func (s *Server) eject(_ context.Context, p *AttachmentParam) (*EmptyResult, error) {
	if err := s.manager.EjectCDROM(p.AttachmentID); err != nil {
		return nil, s.fail("roost.Eject", wrapErr(err))
	}
	s.ok("roost.Eject")
	return &EmptyResult{}, nil
}

func (s *Server) setQoS(_ context.Context, p *SetQoSParams) (*EmptyResult, error) {
	if err := s.manager.SetQoS(p.AttachmentID, p.QoS); err != nil {
		return nil, s.fail("roost.SetQoS", wrapErr(err))
	}
	s.ok("roost.SetQoS")
	return &EmptyResult{}, nil
}

func (s *Server) listDevices(_ context.Context) ([]*types.StorageDevice, error) {
	devices, err := s.manager.ListDevices()
	if err != nil {
		return nil, s.fail("roost.ListDevices", wrapErr(err))
	}
	s.ok("roost.ListDevices")
	if devices == nil {
		devices = []*types.StorageDevice{}
	}
	return devices, nil
}

func (s *Server) listAttachments(_ context.Context, p *ListAttachmentsParams) ([]*types.Attachment, error) {
	attachments, err := s.manager.ListAttachments(p.VMID)
	if err != nil {
		return nil, s.fail("roost.ListAttachments", wrapErr(err))
	}
	s.ok("roost.ListAttachments")
	if attachments == nil {
		attachments = []*types.Attachment{}
	}
	return attachments, nil
}

func (s *Server) schedulerStats(_ context.Context) (*timer.Stats, error) {
	st := s.sched.Stats()
	s.ok("roost.SchedulerStats")
	return &st, nil
}

// wrapErr maps domain errors onto JSON-RPC error codes
func wrapErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, devctl.ErrNoDevice):
		return &jrpc2.Error{Code: codeNotFound, Message: err.Error()}
	case errors.Is(err, attach.ErrWrongState):
		return &jrpc2.Error{Code: codeWrongState, Message: err.Error()}
	case errors.Is(err, devctl.ErrBusy), errors.Is(err, devctl.ErrAddressInUse):
		return &jrpc2.Error{Code: codeDeviceBusy, Message: err.Error()}
	default:
		return err
	}
}

func (s *Server) ok(method string) {
	metrics.APIRequestsTotal.WithLabelValues(method, "ok").Inc()
}

func (s *Server) fail(method string, err error) error {
	metrics.APIRequestsTotal.WithLabelValues(method, "error").Inc()
	return err
}
