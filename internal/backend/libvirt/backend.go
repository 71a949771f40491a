// Package libvirt provisions cluster instances as libvirt domains backed by
// qcow2 overlays and a cloud-init seed ISO.
package libvirt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/terabiome/clusterup/internal/backend"
	"github.com/terabiome/clusterup/internal/plan"
	"github.com/terabiome/clusterup/pkg/constants"
	"github.com/terabiome/clusterup/pkg/executor/fileops"
	hypervisor "github.com/terabiome/clusterup/pkg/libvirt"
	"github.com/terabiome/clusterup/pkg/templator"
	"libvirt.org/go/libvirt"
	"libvirt.org/go/libvirtxml"
)

const (
	defaultShutdownTimeout = time.Minute
	shutdownPollInterval   = time.Second
)

type Options struct {
	// StorageDir holds per-instance overlays and seed ISOs on the hypervisor host.
	StorageDir string
	// ImageDir holds base images laid out as <channel>/<version>/<ImageName>.
	ImageDir  string
	ImageName string
	// ShutdownTimeout bounds a graceful stop before the domain is forced off.
	ShutdownTimeout time.Duration
}

type Backend struct {
	conns  *hypervisor.ConnectionManager
	engine *templator.Engine
	opts   Options
	logger *slog.Logger
}

var _ backend.Backend = (*Backend)(nil)

func New(conns *hypervisor.ConnectionManager, engine *templator.Engine, opts Options, logger *slog.Logger) *Backend {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	return &Backend{
		conns:  conns,
		engine: engine,
		opts:   opts,
		logger: logger.With(slog.String("component", "libvirt")),
	}
}

func (b *Backend) Name() string {
	return "libvirt"
}

// Create lays down the disks of an instance and defines its domain. The
// domain is left shut off.
func (b *Backend) Create(ctx context.Context, spec plan.InstancePlan) (backend.Handle, error) {
	if _, err := b.Lookup(ctx, spec.Name); err == nil {
		return backend.Handle{}, backend.NewError(backend.KindAlreadyExists, "create", spec.Name,
			errors.New("domain is already defined"))
	} else if backend.KindOf(err) != backend.KindNotFound {
		return backend.Handle{}, err
	}

	exec := b.conns.Executor()
	baseImage := BaseImagePath(b.opts.ImageDir, b.opts.ImageName, spec.Image)

	exists, err := fileops.Exists(ctx, exec, baseImage)
	if err != nil {
		return backend.Handle{}, classify("create", spec.Name, err)
	}
	if !exists {
		return backend.Handle{}, backend.NewError(backend.KindPermanent, "create", spec.Name,
			fmt.Errorf("base image %s not found", baseImage))
	}

	if err := fileops.CreateDirectory(ctx, exec, b.opts.StorageDir); err != nil {
		return backend.Handle{}, classify("create", spec.Name, err)
	}

	if spec.SerialLogPath != "" {
		if err := fileops.CreateDirectory(ctx, exec, path.Dir(spec.SerialLogPath)); err != nil {
			return backend.Handle{}, classify("create", spec.Name, err)
		}
	}

	id := uuid.New()
	diskPath := OverlayPath(b.opts.StorageDir, spec.Name)
	seedPath := SeedPath(b.opts.StorageDir, spec.Name)

	b.logger.Info("creating instance",
		slog.String("vm", spec.Name),
		slog.String("uuid", id.String()),
		slog.String("base", baseImage),
	)

	if err := b.createOverlay(ctx, baseImage, diskPath); err != nil {
		return backend.Handle{}, classify("create", spec.Name, err)
	}

	if err := b.createSeed(ctx, spec, id, seedPath); err != nil {
		b.cleanup(ctx, spec.Name, diskPath)
		return backend.Handle{}, classify("create", spec.Name, err)
	}

	if err := b.defineDomain(spec, id, diskPath, seedPath); err != nil {
		err = classify("create", spec.Name, err)
		// A transient failure may come after the definition was committed,
		// and the domain would then reference these files.
		if !backend.IsTransient(err) {
			b.cleanup(ctx, spec.Name, diskPath, seedPath)
		}
		return backend.Handle{}, err
	}

	b.logger.Info("defined instance", slog.String("vm", spec.Name), slog.String("uuid", id.String()))
	return backend.Handle{ID: id.String(), Name: spec.Name}, nil
}

func (b *Backend) Start(ctx context.Context, handle backend.Handle) error {
	return b.withDomain("start", handle, func(domain *libvirt.Domain) error {
		active, err := domain.IsActive()
		if err != nil {
			return err
		}
		if active {
			b.logger.Debug("instance already running", slog.String("vm", handle.Name))
			return nil
		}
		if err := domain.Create(); err != nil {
			return err
		}
		b.logger.Info("started instance", slog.String("vm", handle.Name))
		return nil
	})
}

// Stop asks the guest to power off and forces the domain off when it has
// not stopped within the shutdown timeout.
func (b *Backend) Stop(ctx context.Context, handle backend.Handle) error {
	stopped := false
	err := b.withDomain("stop", handle, func(domain *libvirt.Domain) error {
		active, err := domain.IsActive()
		if err != nil {
			return err
		}
		if !active {
			stopped = true
			return nil
		}
		return domain.Shutdown()
	})
	if err != nil || stopped {
		return err
	}

	deadline := time.NewTimer(b.opts.ShutdownTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return classify("stop", handle.Name, ctx.Err())
		case <-deadline.C:
			b.logger.Warn("graceful shutdown timed out, forcing off", slog.String("vm", handle.Name))
			return b.withDomain("stop", handle, func(domain *libvirt.Domain) error {
				return domain.Destroy()
			})
		case <-ticker.C:
			err := b.withDomain("stop", handle, func(domain *libvirt.Domain) error {
				state, _, err := domain.GetState()
				if err != nil {
					return err
				}
				stopped = state == libvirt.DOMAIN_SHUTOFF
				return nil
			})
			if err != nil {
				return err
			}
			if stopped {
				b.logger.Info("stopped instance", slog.String("vm", handle.Name))
				return nil
			}
		}
	}
}

func (b *Backend) Lookup(ctx context.Context, name string) (backend.Handle, error) {
	handle := backend.Handle{Name: name}
	err := b.withDomain("lookup", handle, func(domain *libvirt.Domain) error {
		id, err := domain.GetUUIDString()
		if err != nil {
			return err
		}
		handle.ID = id
		return nil
	})
	if err != nil {
		return backend.Handle{}, err
	}
	return handle, nil
}

// Destroy forces the domain off, undefines it and removes the disks its
// definition references.
func (b *Backend) Destroy(ctx context.Context, handle backend.Handle) error {
	var disks []string
	err := b.withDomain("destroy", handle, func(domain *libvirt.Domain) error {
		desc, err := domain.GetXMLDesc(libvirt.DOMAIN_XML_INACTIVE)
		if err != nil {
			return fmt.Errorf("could not read domain XML: %w", err)
		}

		domainXML := libvirtxml.Domain{}
		if err := domainXML.Unmarshal(desc); err != nil {
			return fmt.Errorf("could not parse domain XML: %w", err)
		}
		disks = DiskPaths(&domainXML)

		if state, _, _ := domain.GetState(); state != libvirt.DOMAIN_SHUTOFF {
			if err := domain.Destroy(); err != nil {
				return fmt.Errorf("could not destroy domain: %w", err)
			}
			b.logger.Debug("destroyed running instance", slog.String("vm", handle.Name))
		}

		if err := domain.Undefine(); err != nil {
			return fmt.Errorf("could not undefine domain: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.cleanup(ctx, handle.Name, disks...)
	b.logger.Info("destroyed instance", slog.String("vm", handle.Name), slog.Int("disks", len(disks)))
	return nil
}

// withDomain runs fn against the domain behind handle while holding the
// shared connection. The domain is looked up by UUID when the handle has
// one and by name otherwise.
func (b *Backend) withDomain(op string, handle backend.Handle, fn func(*libvirt.Domain) error) error {
	conn, unlock, err := b.conns.GetHypervisor()
	if err != nil {
		return backend.NewError(backend.KindTemporaryUnavailable, op, handle.Name, err)
	}
	defer unlock()

	var domain *libvirt.Domain
	if handle.ID != "" {
		domain, err = conn.LookupDomainByUUIDString(handle.ID)
	} else {
		domain, err = conn.LookupDomainByName(handle.Name)
	}
	if err != nil {
		return classify(op, handle.Name, err)
	}
	defer func() { _ = domain.Free() }()

	return classify(op, handle.Name, fn(domain))
}

func (b *Backend) defineDomain(spec plan.InstancePlan, id uuid.UUID, diskPath, seedPath string) error {
	bytes, err := b.engine.RenderToBytes(constants.TemplateDomain, DomainVars(spec, id, diskPath, seedPath))
	if err != nil {
		return fmt.Errorf("could not render domain XML: %w", err)
	}
	b.logger.Debug("rendered domain XML", slog.String("vm", spec.Name))

	conn, unlock, err := b.conns.GetHypervisor()
	if err != nil {
		return backend.NewError(backend.KindTemporaryUnavailable, "create", spec.Name, err)
	}
	defer unlock()

	domain, err := conn.DomainDefineXML(string(bytes))
	if err != nil {
		return fmt.Errorf("could not define domain: %w", err)
	}
	_ = domain.Free()
	return nil
}

// cleanup removes leftover files of an instance. Failures are logged only.
func (b *Backend) cleanup(ctx context.Context, name string, paths ...string) {
	for _, p := range paths {
		if err := fileops.RemoveFile(ctx, b.conns.Executor(), p); err != nil {
			b.logger.Warn("failed to remove file",
				slog.String("vm", name),
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		}
	}
}

// DomainVars maps an instance plan onto the domain template.
func DomainVars(spec plan.InstancePlan, id uuid.UUID, diskPath, seedPath string) DomainTemplateVars {
	return DomainTemplateVars{
		Name:          spec.Name,
		UUID:          id,
		MemoryKiB:     int64(spec.MemoryMB) << 10,
		VCPU:          spec.CPUs,
		DiskPath:      diskPath,
		SeedISOPath:   seedPath,
		Mounts:        spec.Mounts,
		Ports:         spec.Ports,
		SerialLogPath: spec.SerialLogPath,
		GUI:           spec.GUI,
	}
}

// DiskPaths lists the file-backed disks of a domain definition.
func DiskPaths(domain *libvirtxml.Domain) []string {
	if domain.Devices == nil {
		return nil
	}
	var paths []string
	for _, disk := range domain.Devices.Disks {
		if disk.Source != nil && disk.Source.File != nil && disk.Source.File.File != "" {
			paths = append(paths, disk.Source.File.File)
		}
	}
	return paths
}

func BaseImagePath(imageDir, imageName string, image plan.Image) string {
	return path.Join(imageDir, string(image.Channel), image.Version, imageName)
}

func OverlayPath(storageDir, name string) string {
	return path.Join(storageDir, name+".qcow2")
}

func SeedPath(storageDir, name string) string {
	return path.Join(storageDir, name+"-seed.iso")
}
