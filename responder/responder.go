// Package responder is the public, stable surface for advertising services
// over mDNS/DNS-SD: it wraps internal/engine's probe/announce/unannounce
// state machine behind a small Service/Responder API.
package responder

import (
	"context"
	"sync"

	"github.com/joshuafuller/beacon/internal/engine"
	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/message"
)

// Service is the caller-supplied description of one service instance to
// advertise. ServiceType may be a bare "_svc._proto" (the discovery
// domain is appended automatically) or already fully qualified.
type Service struct {
	InstanceName string
	ServiceType  string
	Port         int
	TXTRecords   map[string]string
	Subtypes     []string

	fqdn string // set once Register succeeds, used by Unregister/UpdateService
}

// Validate checks the fields Register requires before probing.
func (s *Service) Validate() error {
	if s == nil {
		return &errors.ValidationError{Field: "service", Message: "must not be nil"}
	}
	if s.InstanceName == "" {
		return &errors.ValidationError{Field: "InstanceName", Message: "must not be empty"}
	}
	if len(s.ServiceType) < 2 || s.ServiceType[0] != '_' {
		return &errors.ValidationError{Field: "ServiceType", Value: s.ServiceType, Message: "must start with '_' (e.g. \"_http._tcp\")"}
	}
	if s.Port < 1 || s.Port > 65535 {
		return &errors.ValidationError{Field: "Port", Value: s.Port, Message: "must be in range 1-65535"}
	}
	return nil
}

func txtPairs(kv map[string]string) []message.TXTPair {
	if len(kv) == 0 {
		return nil
	}
	out := make([]message.TXTPair, 0, len(kv))
	for k, v := range kv {
		out = append(out, message.TXTPair{Key: k, Value: v, HasValue: true})
	}
	return out
}

// Responder advertises a set of services on the local network. It owns one
// internal/engine.Engine, running its cooperative I/O loop on a dedicated
// goroutine started by New.
type Responder struct {
	eng    *engine.Engine
	cancel context.CancelFunc
	runErr chan error

	mu       sync.Mutex
	services map[string]*Service // keyed by InstanceName
}

// New starts a Responder and its background I/O loop. Close must be called
// to unannounce every registered service and release its sockets.
func New(ctx context.Context, opts ...Option) (*Responder, error) {
	r := &Responder{services: make(map[string]*Service)}

	var engineOpts []engine.Option
	for _, opt := range opts {
		o, err := opt(r)
		if err != nil {
			return nil, err
		}
		if o != nil {
			engineOpts = append(engineOpts, o)
		}
	}

	eng, err := engine.New(engineOpts...)
	if err != nil {
		return nil, err
	}
	r.eng = eng

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.runErr = make(chan error, 1)
	go func() { r.runErr <- eng.Run(runCtx) }()

	return r, nil
}

// Register probes for, then announces, service. It blocks for the
// duration of the probe/announce handshake (spec §4.8: ~750ms) and returns
// once the service is discoverable or a conflict/error prevents that.
func (r *Responder) Register(service *Service) error {
	if err := service.Validate(); err != nil {
		return err
	}

	spec := engine.ServiceSpec{
		InstanceName: service.InstanceName,
		ServiceType:  service.ServiceType,
		Port:         service.Port,
		Text:         txtPairs(service.TXTRecords),
		Subtypes:     service.Subtypes,
	}
	ok, err := r.eng.Announce(spec)
	if err != nil {
		return err
	}
	if !ok {
		return &errors.ValidationError{Field: "InstanceName", Value: service.InstanceName, Message: "name already announced or heard on the network"}
	}

	service.fqdn = spec.FQDN(r.eng.Domain())
	r.mu.Lock()
	r.services[service.InstanceName] = service
	r.mu.Unlock()
	return nil
}

// Unregister sends goodbye packets for instanceName and removes it from the
// responder's registry.
func (r *Responder) Unregister(instanceName string) error {
	r.mu.Lock()
	svc, ok := r.services[instanceName]
	if ok {
		delete(r.services, instanceName)
	}
	r.mu.Unlock()
	if !ok {
		return &errors.ValidationError{Field: "InstanceName", Value: instanceName, Message: "not registered"}
	}
	return r.eng.Unannounce(svc.fqdn)
}

// UpdateService replaces a registered service's TXT records without
// re-probing (spec §4.8: TXT updates never trigger a new probe).
func (r *Responder) UpdateService(instanceName string, txtRecords map[string]string) error {
	r.mu.Lock()
	svc, ok := r.services[instanceName]
	r.mu.Unlock()
	if !ok {
		return &errors.ValidationError{Field: "InstanceName", Value: instanceName, Message: "not registered"}
	}

	svc.TXTRecords = txtRecords
	pairs := txtPairs(txtRecords)
	announced, ok := r.eng.Cache().Get(svc.fqdn)
	if !ok {
		return &errors.ValidationError{Field: "InstanceName", Value: instanceName, Message: "service vanished from cache"}
	}
	announced.SetText(pairs)
	return nil
}

// GetService returns the registered service by instance name.
func (r *Responder) GetService(instanceName string) (*Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[instanceName]
	return svc, ok
}

// Close unregisters every service (sending goodbye packets), stops the
// engine's I/O loop, and waits for it to exit.
func (r *Responder) Close() error {
	r.mu.Lock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	r.mu.Unlock()
	for _, name := range names {
		_ = r.Unregister(name)
	}

	err := r.eng.Close()
	r.cancel()
	<-r.runErr
	return err
}
