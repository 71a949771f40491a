package libvirt

import (
	"context"
	"errors"

	"github.com/terabiome/clusterup/internal/backend"
	"libvirt.org/go/libvirt"
)

// classify wraps err into a backend error whose kind follows the libvirt
// error code.
func classify(op, instance string, err error) error {
	if err == nil {
		return nil
	}

	var backendErr *backend.Error
	if errors.As(err, &backendErr) {
		return err
	}

	kind := backend.KindPermanent
	var libvirtErr libvirt.Error
	switch {
	case errors.As(err, &libvirtErr):
		kind = kindForCode(libvirtErr.Code)
	case errors.Is(err, context.DeadlineExceeded):
		kind = backend.KindTimeout
	}

	return backend.NewError(kind, op, instance, err)
}

func kindForCode(code libvirt.ErrorNumber) backend.ErrorKind {
	switch code {
	case libvirt.ERR_OPERATION_TIMEOUT, libvirt.ERR_AGENT_UNRESPONSIVE:
		return backend.KindTimeout
	case libvirt.ERR_NO_CONNECT, libvirt.ERR_RPC:
		return backend.KindTemporaryUnavailable
	case libvirt.ERR_NO_DOMAIN:
		return backend.KindNotFound
	case libvirt.ERR_DOM_EXIST:
		return backend.KindAlreadyExists
	}
	return backend.KindPermanent
}
