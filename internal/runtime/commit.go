package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/containerd/containerd/v2/core/containers"
	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/pkg/rootfs"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Commits the container's filesystem changes as a new image in the store.
//
// The diff between the container's snapshot and its parent is stored as a
// new layer, appended to the base image's manifest and config, and the
// result is recorded under the given tag. The base image record is never
// modified; later builds from the base always see it clean. The mutated
// manifest and config are written to the content store under a lease so
// containerd's GC cannot collect them before the image record that anchors
// them exists. The committed image is unpacked so containers can start
// from it immediately.
func (c *container) commit(ctx context.Context, tag string) error {
	loaded, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return err
	}

	info, err := loaded.Info(ctx)
	if err != nil {
		return err
	}

	layer, diffID, err := c.snapshotDiff(ctx, info)
	if err != nil {
		return err
	}

	ctx, done, err := c.client.WithLease(ctx)
	if err != nil {
		return err
	}
	defer done(context.Background())

	target, err := c.buildCommitTarget(ctx, info.Image, func(manifest *ocispec.Manifest, config *ocispec.Image) {
		manifest.Layers = append(manifest.Layers, layer)
		config.RootFS.DiffIDs = append(config.RootFS.DiffIDs, diffID)
	})
	if err != nil {
		return err
	}

	if err := c.recordImage(ctx, tag, target); err != nil {
		return err
	}

	committed, err := resolveImage(ctx, c.client, tag, c.platform)
	if err != nil {
		return err
	}
	if err := committed.Unpack(ctx, snapshotter); err != nil {
		return err
	}

	slog.Debug("environment committed", "tag", tag, "layer", layer.Digest)
	return nil
}

// Computes the diff between the container's snapshot and its parent,
// returning the layer descriptor and its diff ID without modifying the
// base image.
func (c *container) snapshotDiff(ctx context.Context, info containers.Container) (ocispec.Descriptor, digest.Digest, error) {
	layer, err := rootfs.CreateDiff(ctx,
		info.SnapshotKey,
		c.client.SnapshotService(info.Snapshotter),
		c.client.DiffService(),
	)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}

	diffID, err := images.GetDiffID(ctx, c.client.ContentStore(), layer)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}

	return layer, diffID, nil
}

// Creates or replaces the image record for a committed environment.
func (c *container) recordImage(ctx context.Context, tag string, target ocispec.Descriptor) error {
	is := c.client.ImageService()

	img := images.Image{
		Name:   tag,
		Target: target,
	}

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target"); err != nil {
			return err
		}
	}

	return nil
}

// Builds the commit target descriptor by applying a mutation to the base
// image's manifest and config.
//
// When the base was resolved through an index, a new single-entry index is
// written containing only the updated manifest. Entries for other platforms
// are dropped because their layer blobs are typically not present in the
// content store (only the build platform's layers are fetched).
func (c *container) buildCommitTarget(ctx context.Context, imageName string, mutate func(*ocispec.Manifest, *ocispec.Image)) (ocispec.Descriptor, error) {
	img, err := c.client.ImageService().Get(ctx, imageName)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	target, index, err := c.resolveManifestDescriptor(ctx, img.Target)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	manifest, err := readManifest(ctx, c.client.ContentStore(), target)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	config, err := readConfig(ctx, c.client.ContentStore(), manifest.Config)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	mutate(&manifest, &config)

	newConfigDesc, err := c.writeBlob(ctx, manifest.Config.MediaType, config, imageName+"-config")
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	manifest.Config = newConfigDesc

	newManifestDesc, err := c.writeBlob(ctx, target.MediaType, manifest, imageName+"-manifest", content.WithLabels(manifestGCLabels(manifest)))
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	if index == nil {
		return newManifestDesc, nil
	}

	index.Manifests = []ocispec.Descriptor{newManifestDesc}
	return c.writeBlob(ctx, img.Target.MediaType, index, imageName+"-index", content.WithLabels(indexGCLabels(*index)))
}

// Resolves the base image root descriptor to a platform-specific manifest.
//
// If the root is an OCI Image Index, the index is read and walked to find
// the manifest matching the container's platform. Returns the manifest
// descriptor and the index (nil when the root is already a manifest).
//
// Some registries (notably Docker Hub) serve index entries without explicit
// platform metadata. When a descriptor lacks a platform field, the manifest
// and its config are read to extract the platform from the image config,
// the same fallback that containerd's images.Manifest uses internally.
func (c *container) resolveManifestDescriptor(ctx context.Context, root ocispec.Descriptor) (ocispec.Descriptor, *ocispec.Index, error) {
	if !images.IsIndexType(root.MediaType) {
		return root, nil, nil
	}

	idx, err := readIndex(ctx, c.client.ContentStore(), root)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}

	p, err := platforms.Parse(c.platform)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}

	if i, ok := c.matchManifest(ctx, idx, platforms.OnlyStrict(p)); ok {
		return idx.Manifests[i], &idx, nil
	}

	if len(idx.Manifests) == 0 {
		return ocispec.Descriptor{}, nil, ErrEmptyIndex
	}
	return idx.Manifests[0], &idx, nil
}

// Searches the index for a manifest matching the given platform.
//
// Descriptors with an explicit platform field are checked first. If none
// match, descriptors without a platform field are probed by reading the
// image config to discover the platform. Returns the index position and
// true when a match is found.
func (c *container) matchManifest(ctx context.Context, idx ocispec.Index, matcher platforms.MatchComparer) (int, bool) {
	for i, m := range idx.Manifests {
		if m.Platform != nil && matcher.Match(*m.Platform) {
			return i, true
		}
	}
	for i, m := range idx.Manifests {
		if m.Platform != nil || !images.IsManifestType(m.MediaType) {
			continue
		}
		if p, ok := c.configPlatform(ctx, m); ok && matcher.Match(p) {
			return i, true
		}
	}
	return 0, false
}

// Reads the image config referenced by a manifest descriptor and returns
// the platform declared in the config.
//
// Returns false when the config cannot be read.
func (c *container) configPlatform(ctx context.Context, desc ocispec.Descriptor) (ocispec.Platform, bool) {
	manifest, err := readManifest(ctx, c.client.ContentStore(), desc)
	if err != nil {
		return ocispec.Platform{}, false
	}
	config, err := readConfig(ctx, c.client.ContentStore(), manifest.Config)
	if err != nil {
		return ocispec.Platform{}, false
	}
	return ocispec.Platform{
		OS:           config.OS,
		Architecture: config.Architecture,
		Variant:      config.Variant,
	}, true
}

// Loads an OCI manifest from the content store.
func readManifest(ctx context.Context, cs content.Store, desc ocispec.Descriptor) (ocispec.Manifest, error) {
	b, err := content.ReadBlob(ctx, cs, desc)
	if err != nil {
		return ocispec.Manifest{}, err
	}
	var m ocispec.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return ocispec.Manifest{}, err
	}
	return m, nil
}

// Loads an OCI image index from the content store.
func readIndex(ctx context.Context, cs content.Store, desc ocispec.Descriptor) (ocispec.Index, error) {
	b, err := content.ReadBlob(ctx, cs, desc)
	if err != nil {
		return ocispec.Index{}, err
	}
	var idx ocispec.Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return ocispec.Index{}, err
	}
	return idx, nil
}

// Loads an OCI image config from the content store.
func readConfig(ctx context.Context, cs content.Store, desc ocispec.Descriptor) (ocispec.Image, error) {
	b, err := content.ReadBlob(ctx, cs, desc)
	if err != nil {
		return ocispec.Image{}, err
	}
	var img ocispec.Image
	if err := json.Unmarshal(b, &img); err != nil {
		return ocispec.Image{}, err
	}
	return img, nil
}

// Serializes a value and writes it to the content store, returning the
// descriptor that references the stored blob.
func (c *container) writeBlob(ctx context.Context, mediaType string, v any, ref string, opts ...content.Opt) (ocispec.Descriptor, error) {
	cs := c.client.ContentStore()
	b, err := json.Marshal(v)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(b),
		Size:      int64(len(b)),
	}
	if err := content.WriteBlob(ctx, cs, ref, bytes.NewReader(b), desc, opts...); err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, nil
}

// Computes containerd GC reference labels for a manifest's children.
//
// These labels allow containerd's garbage collector to trace reachability
// from the manifest blob to its config and layer blobs.
func manifestGCLabels(m ocispec.Manifest) map[string]string {
	labels := map[string]string{
		"containerd.io/gc.ref.content.config": m.Config.Digest.String(),
	}
	for i, layer := range m.Layers {
		key := fmt.Sprintf("containerd.io/gc.ref.content.l.%d", i)
		labels[key] = layer.Digest.String()
	}
	return labels
}

// Computes containerd GC reference labels for an index's children.
func indexGCLabels(idx ocispec.Index) map[string]string {
	labels := make(map[string]string, len(idx.Manifests))
	for i, m := range idx.Manifests {
		key := fmt.Sprintf("containerd.io/gc.ref.content.m.%d", i)
		labels[key] = m.Digest.String()
	}
	return labels
}
