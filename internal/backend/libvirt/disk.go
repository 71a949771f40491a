package libvirt

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/terabiome/clusterup/pkg/executor/qemuimg"
)

func (b *Backend) createOverlay(ctx context.Context, baseImage, diskPath string) error {
	format, err := BackingFormat(baseImage)
	if err != nil {
		return err
	}

	b.logger.Debug("creating qcow2 overlay",
		slog.String("path", diskPath),
		slog.String("base", baseImage),
		slog.String("base_format", format),
	)

	err = qemuimg.CreateOverlay(ctx, b.conns.Executor(), qemuimg.OverlayOptions{
		BackingFile:       baseImage,
		BackingFileFormat: format,
		OutputPath:        diskPath,
	})
	if err != nil {
		return err
	}

	b.logger.Info("created qcow2 overlay", slog.String("path", diskPath))
	return nil
}

// BackingFormat derives the qemu-img format of a base image from its file
// extension. Flatcar ships its qemu image as qcow2 with an .img suffix.
func BackingFormat(imagePath string) (string, error) {
	switch ext := strings.ToLower(path.Ext(imagePath)); ext {
	case ".qcow2", ".img":
		return "qcow2", nil
	case ".raw":
		return "raw", nil
	default:
		return "", fmt.Errorf("unsupported backing file format: %q", ext)
	}
}
