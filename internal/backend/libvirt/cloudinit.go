package libvirt

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/google/uuid"
	"github.com/terabiome/clusterup/internal/plan"
	"github.com/terabiome/clusterup/pkg/constants"
	"github.com/terabiome/clusterup/pkg/executor/fileops"
	"github.com/terabiome/clusterup/pkg/executor/mkisofs"
)

// createSeed renders the NoCloud documents into a staging directory next to
// the seed ISO and packs them with mkisofs on the hypervisor host.
func (b *Backend) createSeed(ctx context.Context, spec plan.InstancePlan, instanceID uuid.UUID, seedPath string) error {
	exec := b.conns.Executor()
	stagingDir := path.Join(b.opts.StorageDir, spec.Name+"-seed")

	if err := fileops.CreateDirectory(ctx, exec, stagingDir); err != nil {
		return err
	}
	defer func() {
		if err := fileops.RemoveDirectory(ctx, exec, stagingDir); err != nil {
			b.logger.Warn("failed to remove seed staging directory",
				slog.String("vm", spec.Name),
				slog.String("path", stagingDir),
				slog.String("error", err.Error()),
			)
		}
	}()

	documents := []struct {
		file     string
		template string
		vars     any
	}{
		{"user-data", constants.TemplateCloudInitUserData, UserDataTemplateVars{Hostname: spec.Hostname, Mounts: spec.Mounts}},
		{"meta-data", constants.TemplateCloudInitMetaData, MetaDataTemplateVars{InstanceID: instanceID.String(), Hostname: spec.Hostname}},
	}

	files := make([]string, 0, len(documents))
	for _, doc := range documents {
		data, err := b.engine.RenderToBytes(doc.template, doc.vars)
		if err != nil {
			return fmt.Errorf("failed to render %s: %w", doc.file, err)
		}

		target := path.Join(stagingDir, doc.file)
		if err := fileops.WriteFile(ctx, exec, target, data); err != nil {
			return err
		}
		files = append(files, target)
		b.logger.Debug("rendered cloud-init document", slog.String("vm", spec.Name), slog.String("file", doc.file))
	}

	err := mkisofs.CreateISO(ctx, exec, mkisofs.ISOOptions{
		OutputPath: seedPath,
		VolumeID:   constants.SeedVolumeID,
		Files:      files,
	})
	if err != nil {
		return err
	}

	b.logger.Info("created cloud-init seed",
		slog.String("vm", spec.Name),
		slog.String("path", seedPath),
		slog.Int("files", len(files)),
	)
	return nil
}
